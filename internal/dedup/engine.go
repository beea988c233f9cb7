// Package dedup finds near-duplicate PRs and issues by embedding them,
// pairing by cosine similarity (brute-force or ANN), clustering with
// union-find, and optionally verifying clusters with an LLM.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/llm"
	"github.com/treliq/treliq/internal/triage"
)

const (
	// defaultRelatedThreshold is the cosine similarity above which two items
	// are considered related.
	defaultRelatedThreshold = 0.85

	embedBatchSize     = 100
	annNeighborLimit   = 20
	bruteForceMaxItems = 50
	maxEmbedFailures   = 5
)

// ClusterType tells whether a cluster holds PRs, issues, or both.
type ClusterType string

const (
	ClusterPR    ClusterType = "pr"
	ClusterIssue ClusterType = "issue"
	ClusterMixed ClusterType = "mixed"
)

// Cluster is a group of near-duplicate items.
type Cluster struct {
	ID               int                  `json:"id"`
	Members          []*triage.ScoredItem `json:"members"`
	BestMemberNumber int                  `json:"bestMemberNumber"`
	AvgSimilarity    float64              `json:"avgSimilarity"`
	Reason           string               `json:"reason"`
	Type             ClusterType          `json:"type"`
}

// pair is one related item pair with its similarity. a < b always.
type pair struct {
	a, b int
	sim  float64
}

// Engine runs the dedup pipeline. store may be nil, which forces brute-force
// pairing regardless of item count.
type Engine struct {
	provider  llm.Provider
	store     VectorStore
	threshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the ANN vector store used above the brute-force cutoff.
func WithStore(store VectorStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithThreshold overrides the related-similarity cutoff.
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// NewEngine creates an Engine. provider is required for embedding.
func NewEngine(provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:  provider,
		threshold: defaultRelatedThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindDuplicates embeds items, pairs, clusters, and (optionally) verifies.
// Items that gain a duplicateGroup are marked in place. A degraded run
// returns an empty cluster list, never an error the caller must handle
// beyond logging.
func (e *Engine) FindDuplicates(ctx context.Context, items []*triage.ScoredItem, g *gate.Gate, verifyWithLLM bool) ([]Cluster, error) {
	if e.provider == nil || len(items) < 2 {
		return nil, nil
	}
	if g == nil {
		g = gate.New(5)
	}
	if e.store != nil {
		defer e.store.Close()
	}

	embedded, err := e.embedAll(ctx, items, g)
	if err != nil {
		return nil, err
	}
	if len(embedded) < 2 {
		return nil, nil
	}

	pairs, err := e.findPairs(ctx, embedded)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	clusters := e.cluster(embedded, pairs)

	if verifyWithLLM {
		clusters = e.verify(ctx, clusters)
	}

	for i := range clusters {
		clusters[i].ID = i
		for _, m := range clusters[i].Members {
			id := i
			m.DuplicateGroup = &id
		}
	}
	return clusters, nil
}

// embedText is what gets embedded for an item.
func embedText(item *triage.ScoredItem) string {
	body := item.Body()
	if len(body) > 1500 {
		body = body[:1500]
	}
	return item.Title() + "\n" + body
}

// embedAll fills item embeddings, preferring batch embedding and falling back
// to gated single calls. Five consecutive single-call failures abort.
func (e *Engine) embedAll(ctx context.Context, items []*triage.ScoredItem, g *gate.Gate) ([]*triage.ScoredItem, error) {
	pending := make([]*triage.ScoredItem, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 {
			pending = append(pending, item)
		}
	}

	if len(pending) > 0 && e.batchEmbedder() != nil {
		pending = e.embedBatched(ctx, pending)
	}
	if len(pending) > 0 {
		if err := e.embedSingles(ctx, pending, g); err != nil {
			return nil, err
		}
	}

	embedded := make([]*triage.ScoredItem, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) > 0 {
			embedded = append(embedded, item)
		}
	}
	return embedded, nil
}

func (e *Engine) batchEmbedder() llm.BatchEmbedder {
	be, ok := e.provider.(llm.BatchEmbedder)
	if !ok {
		return nil
	}
	type batchChecker interface{ SupportsBatch() bool }
	if c, ok := e.provider.(batchChecker); ok && !c.SupportsBatch() {
		return nil
	}
	return be
}

// embedBatched embeds in batches of 100 and returns the items still missing a
// vector (every item of every failed batch).
func (e *Engine) embedBatched(ctx context.Context, items []*triage.ScoredItem) []*triage.ScoredItem {
	be := e.batchEmbedder()
	var remaining []*triage.ScoredItem
	for start := 0; start < len(items); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		texts := make([]string, len(batch))
		for i, item := range batch {
			texts[i] = embedText(item)
		}
		vectors, err := be.GenerateEmbeddingBatch(ctx, texts)
		if err != nil || len(vectors) != len(batch) {
			slog.Warn("batch embedding failed, will retry items singly",
				"batch", len(batch), "error", err)
			remaining = append(remaining, batch...)
			continue
		}
		for i, item := range batch {
			item.Embedding = vectors[i]
		}
	}
	return remaining
}

var errTooManyEmbedFailures = errors.New("too many consecutive embedding failures")

// embedSingles embeds items one call each under the gate. A run of five
// consecutive failures cancels the whole operation.
func (e *Engine) embedSingles(ctx context.Context, items []*triage.ScoredItem, g *gate.Gate) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var consecutive atomic.Int32
	var aborted atomic.Bool

	var eg errgroup.Group
	for _, item := range items {
		eg.Go(func() error {
			return g.Execute(ctx, func(ctx context.Context) error {
				vec, err := e.provider.GenerateEmbedding(ctx, embedText(item))
				if err != nil {
					slog.Debug("embedding failed", "item", item.Number(), "error", err)
					if consecutive.Add(1) >= maxEmbedFailures {
						aborted.Store(true)
						cancel()
					}
					return nil
				}
				consecutive.Store(0)
				item.Embedding = vec
				return nil
			})
		})
	}
	_ = eg.Wait()

	if aborted.Load() {
		return errTooManyEmbedFailures
	}
	return nil
}

// findPairs returns all related pairs above the threshold, canonical and
// sorted for deterministic clustering.
func (e *Engine) findPairs(ctx context.Context, items []*triage.ScoredItem) ([]pair, error) {
	var pairs []pair
	var err error
	if len(items) <= bruteForceMaxItems || e.store == nil {
		pairs = e.bruteForcePairs(items)
	} else {
		pairs, err = e.annPairs(ctx, items)
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	return pairs, nil
}

func (e *Engine) bruteForcePairs(items []*triage.ScoredItem) []pair {
	var pairs []pair
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sim := cosine(items[i].Embedding, items[j].Embedding)
			if sim >= e.threshold {
				a, b := items[i].Number(), items[j].Number()
				if a > b {
					a, b = b, a
				}
				pairs = append(pairs, pair{a: a, b: b, sim: sim})
			}
		}
	}
	return pairs
}

// annPairs upserts all vectors then queries top neighbours per item. L2
// distance d on normalised vectors converts to cosine as 1 - d/2.
func (e *Engine) annPairs(ctx context.Context, items []*triage.ScoredItem) ([]pair, error) {
	numbers := make([]int, len(items))
	vectors := make([][]float32, len(items))
	for i, item := range items {
		numbers[i] = item.Number()
		vectors[i] = item.Embedding
	}
	if err := e.store.Upsert(ctx, numbers, vectors); err != nil {
		return nil, fmt.Errorf("upserting vectors: %w", err)
	}

	seen := make(map[[2]int]bool)
	var mu sync.Mutex
	var pairs []pair

	var eg errgroup.Group
	eg.SetLimit(5)
	for _, item := range items {
		eg.Go(func() error {
			neighbors, err := e.store.Query(ctx, item.Embedding, annNeighborLimit)
			if err != nil {
				return fmt.Errorf("querying neighbours of #%d: %w", item.Number(), err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range neighbors {
				if n.Number == item.Number() {
					continue
				}
				sim := 1 - float64(n.Distance)/2
				if sim < e.threshold {
					continue
				}
				a, b := item.Number(), n.Number
				if a > b {
					a, b = b, a
				}
				key := [2]int{a, b}
				if seen[key] {
					continue
				}
				seen[key] = true
				pairs = append(pairs, pair{a: a, b: b, sim: sim})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// cluster union-finds the pair set and materialises components of size >= 2.
func (e *Engine) cluster(items []*triage.ScoredItem, pairs []pair) []Cluster {
	byNumber := make(map[int]*triage.ScoredItem, len(items))
	for _, item := range items {
		byNumber[item.Number()] = item
	}

	uf := newUnionFind()
	for _, p := range pairs {
		uf.union(p.a, p.b)
	}

	comps := uf.components()
	roots := make([]int, 0, len(comps))
	for root := range comps {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	var clusters []Cluster
	for _, root := range roots {
		numbers := comps[root]
		if len(numbers) < 2 {
			continue
		}
		sort.Ints(numbers)

		members := make([]*triage.ScoredItem, 0, len(numbers))
		inCluster := make(map[int]bool, len(numbers))
		for _, n := range numbers {
			if item, ok := byNumber[n]; ok {
				members = append(members, item)
				inCluster[n] = true
			}
		}
		if len(members) < 2 {
			continue
		}

		var simSum float64
		var simCount int
		for _, p := range pairs {
			if inCluster[p.a] && inCluster[p.b] {
				simSum += p.sim
				simCount++
			}
		}
		avg := 0.0
		if simCount > 0 {
			avg = simSum / float64(simCount)
		}

		clusters = append(clusters, Cluster{
			Members:          members,
			BestMemberNumber: bestMember(members),
			AvgSimilarity:    avg,
			Reason:           fmt.Sprintf("%d items with average similarity %.0f%%", len(members), avg*100),
			Type:             clusterType(members),
		})
	}
	return clusters
}

// bestMember is the highest-scored member, ties broken by smallest number.
func bestMember(members []*triage.ScoredItem) int {
	best := members[0]
	for _, m := range members[1:] {
		if m.TotalScore > best.TotalScore ||
			(m.TotalScore == best.TotalScore && m.Number() < best.Number()) {
			best = m
		}
	}
	return best.Number()
}

func clusterType(members []*triage.ScoredItem) ClusterType {
	prs, issues := 0, 0
	for _, m := range members {
		if m.IsPR() {
			prs++
		} else {
			issues++
		}
	}
	switch {
	case issues == 0:
		return ClusterPR
	case prs == 0:
		return ClusterIssue
	default:
		return ClusterMixed
	}
}

type verifyVerdict struct {
	IsDuplicate bool    `json:"isDuplicate"`
	Reason      string  `json:"reason"`
	Subgroups   [][]int `json:"subgroups,omitempty"`
}

type bestPick struct {
	BestPR int `json:"bestPR"`
}

// verify asks the LLM to confirm each cluster, split it, and pick its best
// member. Any LLM failure keeps the heuristic result for that cluster.
func (e *Engine) verify(ctx context.Context, clusters []Cluster) []Cluster {
	var out []Cluster
	for _, c := range clusters {
		verdict, err := e.verifyCluster(ctx, c)
		if err != nil {
			slog.Warn("cluster verification failed, keeping heuristic cluster",
				"members", len(c.Members), "error", err)
			out = append(out, c)
			continue
		}
		if !verdict.IsDuplicate {
			continue
		}
		kept := []Cluster{c}
		if len(verdict.Subgroups) > 0 {
			kept = splitCluster(c, verdict.Subgroups)
		}
		for _, k := range kept {
			if verdict.Reason != "" {
				k.Reason = verdict.Reason
			}
			k.BestMemberNumber = e.pickBest(ctx, k)
			out = append(out, k)
		}
	}
	return out
}

func (e *Engine) verifyCluster(ctx context.Context, c Cluster) (*verifyVerdict, error) {
	var b strings.Builder
	b.WriteString("These items were flagged as potential duplicates by embedding similarity. Confirm.\n\n")
	for _, m := range c.Members {
		fmt.Fprintf(&b, "#%d: %s\n%s\n\n", m.Number(), m.Title(), truncate(m.Body(), 400))
	}
	b.WriteString(`Respond with JSON only: {"isDuplicate": true|false, "reason": "<one sentence>", "subgroups": [[numbers]...] (optional, only when the set splits into distinct duplicate groups)}`)

	raw, err := e.provider.GenerateText(ctx, b.String(), llm.TextOptions{Temperature: 0, MaxTokens: 300})
	if err != nil {
		return nil, err
	}
	verdict, err := llm.ParseJSON[verifyVerdict](raw)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

// pickBest asks the LLM to choose the cluster's best member; score-based best
// is retained on any failure or out-of-cluster answer.
func (e *Engine) pickBest(ctx context.Context, c Cluster) int {
	var b strings.Builder
	b.WriteString("Pick the single best item to keep from this duplicate group. Consider completeness, quality, and score.\n\n")
	for _, m := range c.Members {
		fmt.Fprintf(&b, "#%d (score %d): %s\n", m.Number(), m.TotalScore, m.Title())
	}
	b.WriteString("\nRespond with JSON only: {\"bestPR\": <number>}")

	raw, err := e.provider.GenerateText(ctx, b.String(), llm.TextOptions{Temperature: 0, MaxTokens: 50})
	if err != nil {
		return c.BestMemberNumber
	}
	pick, err := llm.ParseJSON[bestPick](raw)
	if err != nil {
		return c.BestMemberNumber
	}
	for _, m := range c.Members {
		if m.Number() == pick.BestPR {
			return pick.BestPR
		}
	}
	return c.BestMemberNumber
}

// splitCluster replaces a cluster with one per subgroup of size >= 2.
func splitCluster(c Cluster, subgroups [][]int) []Cluster {
	byNumber := make(map[int]*triage.ScoredItem, len(c.Members))
	for _, m := range c.Members {
		byNumber[m.Number()] = m
	}

	var out []Cluster
	for _, group := range subgroups {
		members := make([]*triage.ScoredItem, 0, len(group))
		sorted := append([]int(nil), group...)
		sort.Ints(sorted)
		for _, n := range sorted {
			if m, ok := byNumber[n]; ok {
				members = append(members, m)
			}
		}
		if len(members) < 2 {
			continue
		}
		out = append(out, Cluster{
			Members:          members,
			BestMemberNumber: bestMember(members),
			AvgSimilarity:    c.AvgSimilarity,
			Reason:           c.Reason,
			Type:             clusterType(members),
		})
	}
	return out
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
