// Package llm abstracts the LLM vendors behind one text+embedding interface
// with retry, throttling, and defensive JSON parsing.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// TextOptions tune a single text generation call.
type TextOptions struct {
	Temperature float64
	MaxTokens   int
}

// Provider is the uniform adapter over LLM vendors. Every provider serves
// text and single embeddings; batch embedding is an optional capability
// detected at runtime via BatchEmbedder.
type Provider interface {
	// Name returns the short vendor identifier (e.g. "openai", "anthropic").
	Name() string

	// GenerateText sends a prompt and returns the raw completion text.
	GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error)

	// GenerateEmbedding returns the embedding vector for one text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is the optional batch embedding capability.
type BatchEmbedder interface {
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string // gemini | openai | anthropic | openrouter
	Model    string
	APIKey   string

	// EmbeddingFallback serves embeddings for text-only providers
	// (anthropic, openrouter). Required for those; ignored otherwise.
	EmbeddingFallback Provider
}

// New constructs the provider named in cfg. Selecting a text-only provider
// without an embedding fallback is a construction-time error.
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model)
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case "anthropic":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.EmbeddingFallback)
	case "openrouter":
		return NewOpenRouter(cfg.APIKey, cfg.Model, cfg.EmbeddingFallback)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
