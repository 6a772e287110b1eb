package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
)

// Provider implements llm.Provider for OpenAI
type Provider struct {
	client  *openai.Client
	name    string
	enabled bool
}

// NewProvider creates a new OpenAI provider
func NewProvider(config types.OpenAIConfig) (*Provider, error) {
	if config.APIKey == "" {
		return Disabled("openai"), nil
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Organization != "" {
		clientConfig.OrgID = config.Organization
	}
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return NewWithClientConfig("openai", clientConfig), nil
}

// NewWithClientConfig builds a provider for any OpenAI-compatible endpoint.
func NewWithClientConfig(name string, clientConfig openai.ClientConfig) *Provider {
	return &Provider{
		client:  openai.NewClientWithConfig(clientConfig),
		name:    name,
		enabled: true,
	}
}

// Disabled returns a provider that reports itself unconfigured.
func Disabled(name string) *Provider {
	return &Provider{name: name}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// IsEnabled returns whether the provider is configured
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Generate sends one chat completion with a single user message
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	if !p.enabled {
		return "", fmt.Errorf("%w: %s api key not configured", llm.ErrUnavailable, p.name)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", llm.ErrBackend, p.name)
	}
	return resp.Choices[0].Message.Content, nil
}
