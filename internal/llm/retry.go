package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryWrapper decorates a Provider with exponential backoff on transient
// failures. 429 and 5xx responses and network errors are retried; the fatal
// 4xx set (400/401/403/404/422) is attempted exactly once. A 429 additionally
// fires OnThrottle so the caller can reduce concurrency, and any success
// fires OnSuccess so the caller can recover it.
type RetryWrapper struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// OnThrottle is invoked once per observed 429. May be nil.
	OnThrottle func()
	// OnSuccess is invoked after every successful call. May be nil.
	OnSuccess func()
}

// RetryOption configures a RetryWrapper.
type RetryOption func(*RetryWrapper)

// WithBackoff overrides the retry schedule.
func WithBackoff(maxAttempts int, baseDelay, maxDelay time.Duration) RetryOption {
	return func(w *RetryWrapper) {
		w.maxAttempts = maxAttempts
		w.baseDelay = baseDelay
		w.maxDelay = maxDelay
	}
}

// WithThrottleHook sets the 429 callback.
func WithThrottleHook(fn func()) RetryOption {
	return func(w *RetryWrapper) { w.OnThrottle = fn }
}

// WithSuccessHook sets the post-success callback.
func WithSuccessHook(fn func()) RetryOption {
	return func(w *RetryWrapper) { w.OnSuccess = fn }
}

// NewRetryWrapper wraps a provider with the default schedule of 4 attempts,
// 1s base delay, 30s cap.
func NewRetryWrapper(inner Provider, opts ...RetryOption) *RetryWrapper {
	w := &RetryWrapper{
		inner:       inner,
		maxAttempts: 4,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *RetryWrapper) Name() string { return w.inner.Name() }

func (w *RetryWrapper) GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	var out string
	err := w.do(ctx, "generateText", func() error {
		var callErr error
		out, callErr = w.inner.GenerateText(ctx, prompt, opts)
		return callErr
	})
	return out, err
}

func (w *RetryWrapper) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := w.do(ctx, "generateEmbedding", func() error {
		var callErr error
		out, callErr = w.inner.GenerateEmbedding(ctx, text)
		return callErr
	})
	return out, err
}

// GenerateEmbeddingBatch delegates to the inner batch capability. Callers
// must check SupportsBatch first.
func (w *RetryWrapper) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batcher, ok := w.inner.(BatchEmbedder)
	if !ok {
		return nil, &APIError{StatusCode: 0, Message: "provider has no batch embedding", Err: errNotRetryable}
	}
	var out [][]float32
	err := w.do(ctx, "generateEmbeddingBatch", func() error {
		var callErr error
		out, callErr = batcher.GenerateEmbeddingBatch(ctx, texts)
		return callErr
	})
	return out, err
}

// SupportsBatch reports whether the wrapped provider can embed in batches.
func (w *RetryWrapper) SupportsBatch() bool {
	_, ok := w.inner.(BatchEmbedder)
	return ok
}

func (w *RetryWrapper) do(ctx context.Context, op string, call func() error) error {
	var err error
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if attempt > 0 {
			if waitErr := w.wait(ctx, attempt-1, err); waitErr != nil {
				return waitErr
			}
		}

		err = call()
		if err == nil {
			if w.OnSuccess != nil {
				w.OnSuccess()
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if status, ok := StatusOf(err); ok && status == 429 && w.OnThrottle != nil {
			w.OnThrottle()
		}
		if !IsRetryable(err) {
			return err
		}
		slog.Debug("retrying LLM call", "op", op, "provider", w.inner.Name(),
			"attempt", attempt+1, "error", err)
	}
	return err
}

// wait sleeps for Retry-After when supplied, otherwise baseDelay·2^attempt
// capped at maxDelay. Cancellation is honoured at the wait point.
func (w *RetryWrapper) wait(ctx context.Context, attempt int, lastErr error) error {
	delay, ok := RetryAfterOf(lastErr)
	if !ok {
		delay = w.baseDelay << uint(attempt)
		if delay > w.maxDelay {
			delay = w.maxDelay
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

var _ Provider = (*RetryWrapper)(nil)
