package dedup

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnionFind_Components(t *testing.T) {
	uf := newUnionFind()
	uf.union(1, 2)
	uf.union(2, 3)
	uf.union(10, 11)
	uf.find(99) // singleton

	comps := uf.components()
	var sizes []int
	for _, members := range comps {
		sizes = append(sizes, len(members))
	}
	sort.Ints(sizes)
	assert.Equal(t, []int{1, 2, 3}, sizes)

	assert.Equal(t, uf.find(1), uf.find(3))
	assert.Equal(t, uf.find(10), uf.find(11))
	assert.NotEqual(t, uf.find(1), uf.find(10))
	assert.NotEqual(t, uf.find(1), uf.find(99))
}

func TestUnionFind_Idempotent(t *testing.T) {
	uf := newUnionFind()
	uf.union(1, 2)
	uf.union(1, 2)
	uf.union(2, 1)

	comps := uf.components()
	require.Len(t, comps, 1)
	for _, members := range comps {
		sort.Ints(members)
		assert.Equal(t, []int{1, 2}, members)
	}
}

func TestUnionFind_TransitiveMerge(t *testing.T) {
	uf := newUnionFind()
	uf.union(1, 2)
	uf.union(3, 4)
	// Joining members of two components merges both.
	uf.union(2, 3)

	assert.Equal(t, uf.find(1), uf.find(4))
	assert.Len(t, uf.components(), 1)
}
