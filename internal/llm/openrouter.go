package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider routes text generation through OpenRouter's
// OpenAI-compatible API. OpenRouter does not serve embeddings, so those are
// delegated to a fallback provider.
type OpenRouterProvider struct {
	llm      *openai.LLM
	model    string
	fallback Provider
}

// NewOpenRouter creates an OpenRouter text provider. fallback must be non-nil.
func NewOpenRouter(apiKey, model string, fallback Provider) (*OpenRouterProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: API key is empty")
	}
	if fallback == nil {
		return nil, fmt.Errorf("openrouter: text-only provider requires an embedding fallback")
	}
	if model == "" {
		model = "anthropic/claude-sonnet-4"
	}
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithBaseURL(openRouterBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("openrouter: creating client: %w", err)
	}
	return &OpenRouterProvider{llm: llm, model: model, fallback: fallback}, nil
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

func (p *OpenRouterProvider) GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, p.llm, prompt, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openrouter: generating text: %w", err)
	}
	return out, nil
}

func (p *OpenRouterProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return p.fallback.GenerateEmbedding(ctx, text)
}

var _ Provider = (*OpenRouterProvider)(nil)
