package triage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
)

func TestReputationProbe_ScoresProfiles(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	host := githost.NewMockHost()
	host.Users["veteran"] = &githost.UserProfile{
		Login:       "veteran",
		Followers:   2000,
		PublicRepos: 80,
		CreatedAt:   now.AddDate(-10, 0, 0),
	}
	host.Users["fresh"] = &githost.UserProfile{
		Login:     "fresh",
		CreatedAt: now,
	}

	p := NewReputationProbe(host)
	p.now = func() time.Time { return now }

	veteran, err := p.Probe(context.Background(), "veteran")
	require.NoError(t, err)
	fresh, err := p.Probe(context.Background(), "fresh")
	require.NoError(t, err)

	assert.Equal(t, 100, veteran)
	assert.Equal(t, 30, fresh)
	assert.Greater(t, veteran, fresh)
}

func TestReputationProbe_CachesByLogin(t *testing.T) {
	host := githost.NewMockHost()
	host.Users["alice"] = &githost.UserProfile{Login: "alice", CreatedAt: time.Now()}

	p := NewReputationProbe(host)
	_, err := p.Probe(context.Background(), "alice")
	require.NoError(t, err)
	_, err = p.Probe(context.Background(), "alice")
	require.NoError(t, err)

	assert.Len(t, host.UserCalls, 1)

	p.Reset()
	_, err = p.Probe(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, host.UserCalls, 2)
}

func TestReputationProbe_UnknownUser(t *testing.T) {
	p := NewReputationProbe(githost.NewMockHost())
	_, err := p.Probe(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestProbeAll_OmitsFailures(t *testing.T) {
	host := githost.NewMockHost()
	host.Users["alice"] = &githost.UserProfile{Login: "alice", Followers: 10, CreatedAt: time.Now().AddDate(-2, 0, 0)}

	p := NewReputationProbe(host)
	out := p.ProbeAll(context.Background(), []string{"alice", "ghost"}, gate.New(2))

	require.Len(t, out, 1)
	assert.Contains(t, out, "alice")
}

func TestScoreProfile_Bounds(t *testing.T) {
	p := NewReputationProbe(nil)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	score := p.scoreProfile(&githost.UserProfile{
		Followers:   1 << 20,
		PublicRepos: 10000,
		CreatedAt:   time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, 100, score)

	score = p.scoreProfile(&githost.UserProfile{
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, 30, score)
}
