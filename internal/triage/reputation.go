package triage

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
)

// UserFetcher is the slice of the host surface the reputation probe needs.
type UserFetcher interface {
	FetchUser(ctx context.Context, login string) (*githost.UserProfile, error)
}

// ReputationProbe computes a per-author trust score in [0,100] from public
// profile data. Results are cached for the process lifetime.
type ReputationProbe struct {
	fetcher UserFetcher

	mu    sync.RWMutex
	cache map[string]int

	now func() time.Time
}

// NewReputationProbe creates a probe backed by the given host client.
func NewReputationProbe(fetcher UserFetcher) *ReputationProbe {
	return &ReputationProbe{
		fetcher: fetcher,
		cache:   make(map[string]int),
		now:     time.Now,
	}
}

// Probe returns the cached reputation for login, fetching it on first use.
func (p *ReputationProbe) Probe(ctx context.Context, login string) (int, error) {
	p.mu.RLock()
	if score, ok := p.cache[login]; ok {
		p.mu.RUnlock()
		return score, nil
	}
	p.mu.RUnlock()

	profile, err := p.fetcher.FetchUser(ctx, login)
	if err != nil {
		return 0, err
	}
	score := p.scoreProfile(profile)

	p.mu.Lock()
	p.cache[login] = score
	p.mu.Unlock()
	return score, nil
}

// ProbeAll fetches reputations for all logins in parallel under the gate.
// Failed lookups are logged and omitted from the result.
func (p *ReputationProbe) ProbeAll(ctx context.Context, logins []string, g *gate.Gate) map[string]int {
	var mu sync.Mutex
	out := make(map[string]int, len(logins))

	var eg errgroup.Group
	for _, login := range logins {
		eg.Go(func() error {
			return g.Execute(ctx, func(ctx context.Context) error {
				score, err := p.Probe(ctx, login)
				if err != nil {
					slog.Debug("reputation probe failed", "login", login, "error", err)
					return nil
				}
				mu.Lock()
				out[login] = score
				mu.Unlock()
				return nil
			})
		})
	}
	_ = eg.Wait()
	return out
}

// Reset clears the cache. Test hook.
func (p *ReputationProbe) Reset() {
	p.mu.Lock()
	p.cache = make(map[string]int)
	p.mu.Unlock()
}

// scoreProfile maps account age, followers and public activity onto [0,100].
// A fresh zero-footprint account lands near 30; an established maintainer
// saturates near 100.
func (p *ReputationProbe) scoreProfile(u *githost.UserProfile) int {
	score := 30.0

	years := p.now().Sub(u.CreatedAt).Hours() / (24 * 365)
	if years > 0 {
		score += math.Min(30, years*6)
	}
	if u.Followers > 0 {
		score += math.Min(25, 5*math.Log2(float64(u.Followers)+1))
	}
	if u.PublicRepos > 0 {
		score += math.Min(15, float64(u.PublicRepos)/2)
	}

	if score > 100 {
		score = 100
	}
	return int(score)
}
