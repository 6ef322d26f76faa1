package ai

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider on top of the official Anthropic SDK.
type AnthropicProvider struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicProvider builds a provider for the given API key, optional base
// URL override and model. An empty model selects a fast default.
func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}

	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     m,
		maxTokens: defaultAnthropicMaxTokens,
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Ask implements Provider.
func (p *AnthropicProvider) Ask(ctx context.Context, system, prompt string) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ErrUnavailable, err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &Response{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
