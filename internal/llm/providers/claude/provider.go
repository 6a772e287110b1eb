package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
)

const defaultMaxTokens = 4096

// Provider implements llm.Provider for Anthropic Claude
type Provider struct {
	client    anthropic.Client
	maxTokens int64
	enabled   bool
}

// NewProvider creates a new Claude provider
func NewProvider(config types.AnthropicConfig, opts ...option.RequestOption) (*Provider, error) {
	if config.APIKey == "" {
		return &Provider{enabled: false}, nil
	}

	maxTokens := int64(config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts = append([]option.RequestOption{option.WithAPIKey(config.APIKey)}, opts...)
	return &Provider{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
		enabled:   true,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "anthropic"
}

// IsEnabled returns whether the provider is configured
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Generate sends the prompt as a single user message
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	if !p.enabled {
		return "", fmt.Errorf("%w: anthropic api key not configured", llm.ErrUnavailable)
	}

	response, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   p.maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Claude API error: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
