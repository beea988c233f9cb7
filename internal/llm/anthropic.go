package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider serves text via the Anthropic Messages API. Anthropic has
// no embedding endpoint, so embeddings are delegated to a fallback provider.
type AnthropicProvider struct {
	client   anthropic.Client
	model    string
	fallback Provider
}

// NewAnthropic creates an Anthropic text provider. fallback must be non-nil
// because this vendor cannot serve embeddings itself.
func NewAnthropic(apiKey, model string, fallback Provider) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is empty")
	}
	if fallback == nil {
		return nil, fmt.Errorf("anthropic: text-only provider requires an embedding fallback")
	}
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:    model,
		fallback: fallback,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) GenerateText(ctx context.Context, prompt string, opts TextOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", normalizeAnthropicError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (p *AnthropicProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return p.fallback.GenerateEmbedding(ctx, text)
}

// normalizeAnthropicError lifts the SDK's status code into an APIError so the
// retry wrapper can classify it.
func normalizeAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	norm := &APIError{
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
		Err:        err,
	}
	if apiErr.Response != nil {
		if ra := apiErr.Response.Header.Get("Retry-After"); ra != "" {
			if d, parseErr := time.ParseDuration(ra + "s"); parseErr == nil {
				norm.RetryAfter = d
			}
		}
	}
	return norm
}

var _ Provider = (*AnthropicProvider)(nil)
