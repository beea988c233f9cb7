// Package gate provides a bounded-concurrency semaphore with FIFO admission,
// per-task retry, and adaptive throttling.
package gate

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Gate is a counting semaphore whose capacity can be lowered and restored at
// runtime. Waiters are admitted in FIFO order. Capacity changes affect only
// newly-arriving acquirers; in-flight work is never cancelled.
type Gate struct {
	mu         sync.Mutex
	max        int
	initialMax int
	inFlight   int
	waiters    *list.List // of chan struct{}

	retryAttempts int
	retryDelay    time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithRetry sets the per-task retry policy. attempts is the number of retries
// after the first failure; delay is the linear backoff base.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(g *Gate) {
		g.retryAttempts = attempts
		g.retryDelay = delay
	}
}

// New creates a Gate admitting at most max concurrent tasks.
func New(max int, opts ...Option) *Gate {
	if max < 1 {
		max = 1
	}
	g := &Gate{
		max:        max,
		initialMax: max,
		waiters:    list.New(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute acquires a slot, runs fn with the configured retry policy, and
// releases the slot. It returns fn's last error when all attempts fail.
func (g *Gate) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	var err error
	for attempt := 0; attempt <= g.retryAttempts; attempt++ {
		if attempt > 0 {
			// Linear backoff between attempts.
			delay := g.retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// Throttle halves the concurrency ceiling, with a floor of 2.
func (g *Gate) Throttle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.max / 2
	if next < 2 {
		next = 2
	}
	if next != g.max {
		slog.Debug("concurrency gate throttled", "from", g.max, "to", next)
		g.max = next
	}
}

// Recover raises the concurrency ceiling by one, up to the initial maximum.
func (g *Gate) Recover() {
	g.mu.Lock()
	if g.max >= g.initialMax {
		g.mu.Unlock()
		return
	}
	g.max++
	g.mu.Unlock()
	g.dispatch()
}

// Limit returns the current concurrency ceiling.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max
}

func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.inFlight < g.max && g.waiters.Len() == 0 {
		g.inFlight++
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := g.waiters.PushBack(ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-ready:
			// Admitted concurrently with cancellation; hand the slot on.
			g.inFlight--
			g.mu.Unlock()
			g.dispatch()
			return ctx.Err()
		default:
			g.waiters.Remove(elem)
			g.mu.Unlock()
			return ctx.Err()
		}
	}
}

func (g *Gate) release() {
	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	g.dispatch()
}

// dispatch admits queued waiters, oldest first, while capacity allows.
func (g *Gate) dispatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.inFlight < g.max && g.waiters.Len() > 0 {
		front := g.waiters.Front()
		g.waiters.Remove(front)
		g.inFlight++
		close(front.Value.(chan struct{}))
	}
}
