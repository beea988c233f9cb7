package githost

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// criticalRemaining is the quota floor below which callers are paused.
	criticalRemaining = 100
	// slowDownRemaining is the quota level at which callers should start pacing.
	slowDownRemaining = 500
	// maxWait caps a single rate-limit pause.
	maxWait = 60 * time.Second
)

// RateLimitGovernor tracks the host's primary rate limit from response headers
// and pauses callers when the remaining quota is nearly exhausted. It is safe
// for concurrent use and shared by every outbound host call in a scan.
type RateLimitGovernor struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetAt   time.Time
	known     bool

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimitGovernor returns a governor with no recorded state; until the
// first UpdateFromHeaders call it never pauses.
func NewRateLimitGovernor() *RateLimitGovernor {
	return &RateLimitGovernor{now: time.Now}
}

// UpdateFromHeaders records the X-RateLimit-Remaining/Limit/Reset headers of a
// successful response. Missing or malformed headers leave state unchanged.
func (g *RateLimitGovernor) UpdateFromHeaders(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = remaining
	g.known = true
	if limit, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		g.limit = limit
	}
	if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		// resetAt is taken at face value; no clock drift correction.
		g.resetAt = time.Unix(reset, 0)
	}
}

// WaitIfNeeded blocks until the rate-limit window resets when the remaining
// quota is critical. The pause is capped at 60 seconds and honours ctx.
func (g *RateLimitGovernor) WaitIfNeeded(ctx context.Context) error {
	g.mu.Lock()
	critical := g.known && g.remaining <= criticalRemaining
	resetAt := g.resetAt
	remaining := g.remaining
	now := g.now()
	g.mu.Unlock()

	if !critical {
		return nil
	}
	wait := resetAt.Sub(now)
	if wait <= 0 {
		return nil
	}
	if wait > maxWait {
		wait = maxWait
	}
	slog.Warn("rate limit nearly exhausted, pausing",
		"remaining", remaining, "wait", wait.Round(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// ShouldSlowDown reports whether the remaining quota is low but not critical.
func (g *RateLimitGovernor) ShouldSlowDown() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known && g.remaining > 0 && g.remaining < slowDownRemaining
}

// IsCritical reports whether the remaining quota is at or below the floor.
func (g *RateLimitGovernor) IsCritical() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.known && g.remaining <= criticalRemaining
}

// Snapshot returns the last observed (remaining, limit, resetAt).
func (g *RateLimitGovernor) Snapshot() (remaining, limit int, resetAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining, g.limit, g.resetAt
}
