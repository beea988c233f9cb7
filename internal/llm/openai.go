package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider serves both text and embeddings through the OpenAI API.
type OpenAIProvider struct {
	llm   *openai.LLM
	name  string
	model string
}

// NewOpenAI creates an OpenAI provider with native embedding support.
func NewOpenAI(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithEmbeddingModel("text-embedding-3-small"),
	)
	if err != nil {
		return nil, fmt.Errorf("openai: creating client: %w", err)
	}
	return &OpenAIProvider{llm: llm, name: "openai", model: model}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: generating text: %w", p.name, err)
	}
	return out, nil
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%s: embedding: %w", p.name, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%s: expected 1 embedding, got %d", p.name, len(vectors))
	}
	return vectors[0], nil
}

// GenerateEmbeddingBatch embeds up to the vendor's batch limit in one call.
func (p *OpenAIProvider) GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s: batch embedding: %w", p.name, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d embeddings, got %d", p.name, len(texts), len(vectors))
	}
	return vectors, nil
}

var (
	_ Provider      = (*OpenAIProvider)(nil)
	_ BatchEmbedder = (*OpenAIProvider)(nil)
)
