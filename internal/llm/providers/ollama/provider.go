package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
)

const generatePath = "/api/generate"

// Provider implements llm.Provider for a local Ollama daemon
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// NewProvider creates a new Ollama provider. Timeouts are applied per request
// by llm.Call, so the HTTP client itself carries none.
func NewProvider(config types.OllamaConfig) (*Provider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("ollama base_url is required")
	}
	return &Provider{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "ollama"
}

// IsEnabled returns whether the provider is configured. Ollama needs no credentials.
func (p *Provider) IsEnabled() bool {
	return p.baseURL != ""
}

// Generate posts a single non-streaming completion request
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: generateOptions{Temperature: req.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", llm.ErrBackend, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", llm.ErrBackend, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", llm.ErrBackend, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("%w: %s", llm.ErrBackend, out.Error)
	}

	return strings.TrimSpace(out.Response), nil
}
