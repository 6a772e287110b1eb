package gemini

import (
	"context"
	"fmt"

	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
	"google.golang.org/genai"
)

// Provider implements llm.Provider for Google Gemini
type Provider struct {
	client  *genai.Client
	enabled bool
}

// NewProvider creates a new Gemini provider
func NewProvider(config types.GoogleConfig) (*Provider, error) {
	if config.APIKey == "" {
		return &Provider{enabled: false}, nil
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}

	return &Provider{
		client:  client,
		enabled: true,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "gemini"
}

// IsEnabled returns whether the provider is configured
func (p *Provider) IsEnabled() bool {
	return p.enabled
}

// Generate runs a single GenerateContent call
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	if !p.enabled {
		return "", fmt.Errorf("%w: google api key not configured", llm.ErrUnavailable)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	})
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
