package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// GeminiProvider serves text and embeddings through the Google AI API.
type GeminiProvider struct {
	llm   *googleai.GoogleAI
	model string
}

// NewGemini creates a Gemini provider with native embedding support.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is empty")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
		googleai.WithDefaultEmbeddingModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &GeminiProvider{llm: llm, model: model}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("gemini: generating text: %w", err)
	}
	return out, nil
}

func (p *GeminiProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("gemini: embedding: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("gemini: expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// GenerateEmbeddingBatch embeds several texts in one call.
func (p *GeminiProvider) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("gemini: batch embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

var (
	_ Provider      = (*GeminiProvider)(nil)
	_ BatchEmbedder = (*GeminiProvider)(nil)
)
