package llm

import (
	"context"
	"sync"
)

// MockProvider is a test double for Provider. Text responses are served from
// a FIFO queue falling back to DefaultText; embeddings come from the
// Embeddings map keyed by input text, falling back to a small deterministic
// vector derived from the text length.
type MockProvider struct {
	mu sync.Mutex

	ProviderName string
	DefaultText  string
	TextQueue    []string
	TextErr      error
	TextFunc     func(prompt string) (string, error)

	Embeddings   map[string][]float32
	EmbedErr     error
	BatchErr     error
	DisableBatch bool

	TextCalls  []string
	EmbedCalls []string
	BatchCalls int
}

// NewMockProvider creates a MockProvider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		ProviderName: "mock",
		DefaultText:  `{"score": 70, "risk": "low", "reason": "mock"}`,
		Embeddings:   make(map[string][]float32),
	}
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) GenerateText(_ context.Context, prompt string, _ TextOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TextCalls = append(m.TextCalls, prompt)
	if m.TextFunc != nil {
		return m.TextFunc(prompt)
	}
	if m.TextErr != nil {
		return "", m.TextErr
	}
	if len(m.TextQueue) > 0 {
		out := m.TextQueue[0]
		m.TextQueue = m.TextQueue[1:]
		return out, nil
	}
	return m.DefaultText, nil
}

func (m *MockProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmbedCalls = append(m.EmbedCalls, text)
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	return m.embeddingFor(text), nil
}

func (m *MockProvider) GenerateEmbeddingBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls++
	if m.DisableBatch {
		return nil, &APIError{StatusCode: 0, Message: "batch disabled", Err: errNotRetryable}
	}
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.embeddingFor(t)
	}
	return out, nil
}

func (m *MockProvider) embeddingFor(text string) []float32 {
	if v, ok := m.Embeddings[text]; ok {
		return v
	}
	// Deterministic unit-ish vector so cosine math stays well-defined.
	n := float32(len(text)%7 + 1)
	return []float32{1, n / 10, 0}
}

var (
	_ Provider      = (*MockProvider)(nil)
	_ BatchEmbedder = (*MockProvider)(nil)
)
