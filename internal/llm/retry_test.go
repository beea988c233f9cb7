package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(inner Provider, opts ...RetryOption) *RetryWrapper {
	base := []RetryOption{WithBackoff(4, time.Millisecond, 5*time.Millisecond)}
	return NewRetryWrapper(inner, append(base, opts...)...)
}

func TestRetryWrapper_SucceedsFirstTry(t *testing.T) {
	mock := NewMockProvider()
	mock.DefaultText = "hello"

	w := fastRetry(mock)
	out, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Len(t, mock.TextCalls, 1)
}

func TestRetryWrapper_RetriesTransient(t *testing.T) {
	mock := NewMockProvider()
	calls := 0
	mock.TextFunc = func(prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "", &APIError{StatusCode: 503, Message: "overloaded"}
		}
		return "recovered", nil
	}

	w := fastRetry(mock)
	out, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, calls)
}

func TestRetryWrapper_FatalStatusOnce(t *testing.T) {
	mock := NewMockProvider()
	calls := 0
	mock.TextFunc = func(prompt string) (string, error) {
		calls++
		return "", &APIError{StatusCode: 401, Message: "bad key"}
	}

	w := fastRetry(mock)
	_, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWrapper_ThrottleHookOn429(t *testing.T) {
	mock := NewMockProvider()
	calls := 0
	mock.TextFunc = func(prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", &APIError{StatusCode: 429, Message: "rate limited"}
		}
		return "ok", nil
	}

	throttles := 0
	successes := 0
	w := fastRetry(mock,
		WithThrottleHook(func() { throttles++ }),
		WithSuccessHook(func() { successes++ }))

	out, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, throttles)
	assert.Equal(t, 1, successes)
}

func TestRetryWrapper_HonoursRetryAfter(t *testing.T) {
	mock := NewMockProvider()
	calls := 0
	start := time.Now()
	mock.TextFunc = func(prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", &APIError{StatusCode: 429, RetryAfter: 20 * time.Millisecond}
		}
		return "ok", nil
	}

	w := fastRetry(mock)
	_, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRetryWrapper_ExhaustsAttempts(t *testing.T) {
	mock := NewMockProvider()
	calls := 0
	mock.TextFunc = func(prompt string) (string, error) {
		calls++
		return "", &APIError{StatusCode: 500}
	}

	w := fastRetry(mock)
	_, err := w.GenerateText(context.Background(), "prompt", TextOptions{})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryWrapper_ContextCancelStopsRetry(t *testing.T) {
	mock := NewMockProvider()
	ctx, cancel := context.WithCancel(context.Background())
	mock.TextFunc = func(prompt string) (string, error) {
		cancel()
		return "", &APIError{StatusCode: 500}
	}

	w := fastRetry(mock)
	_, err := w.GenerateText(ctx, "prompt", TextOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, mock.TextCalls, 1)
}

func TestRetryWrapper_BatchWithoutCapability(t *testing.T) {
	w := fastRetry(textOnlyProvider{})
	assert.False(t, w.SupportsBatch())

	_, err := w.GenerateEmbeddingBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestRetryWrapper_SupportsBatch(t *testing.T) {
	w := fastRetry(NewMockProvider())
	assert.True(t, w.SupportsBatch())

	out, err := w.GenerateEmbeddingBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

// textOnlyProvider has no batch embedding, mirroring anthropic/openrouter.
type textOnlyProvider struct{}

func (textOnlyProvider) Name() string { return "textonly" }
func (textOnlyProvider) GenerateText(context.Context, string, TextOptions) (string, error) {
	return "", nil
}
func (textOnlyProvider) GenerateEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("no embeddings")
}

func TestStatusOf(t *testing.T) {
	status, ok := StatusOf(&APIError{StatusCode: 429})
	assert.True(t, ok)
	assert.Equal(t, 429, status)

	status, ok = StatusOf(errors.New("API returned unexpected status code: 503 upstream"))
	assert.True(t, ok)
	assert.Equal(t, 503, status)

	_, ok = StatusOf(errors.New("connection refused"))
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{StatusCode: 429}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 502}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 404}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 422}))
	assert.False(t, IsRetryable(nil))
	// Status-less errors are assumed transient.
	assert.True(t, IsRetryable(errors.New("stream reset")))
}
