package openrouter

import (
	"net/http"

	"github.com/sashabaranov/go-openai"
	openaiprovider "github.com/zhe.chen/explaind/internal/llm/providers/openai"
	"github.com/zhe.chen/explaind/pkg/types"
)

const (
	// OpenRouter API base URL
	openRouterBaseURL = "https://openrouter.ai/api/v1"

	// OpenRouter headers
	httpReferer = "https://github.com/zhe.chen/explaind"
	appTitle    = "explaind"
)

// NewProvider creates a new OpenRouter provider.
// OpenRouter uses OpenAI-compatible API with custom base URL
func NewProvider(config types.OpenRouterConfig) (*openaiprovider.Provider, error) {
	if config.APIKey == "" {
		return openaiprovider.Disabled("openrouter"), nil
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = openRouterBaseURL

	// Create custom HTTP client with OpenRouter-specific headers
	clientConfig.HTTPClient = &http.Client{
		Transport: &headerTransport{
			Base: http.DefaultTransport,
			Headers: map[string]string{
				"HTTP-Referer": httpReferer,
				"X-Title":      appTitle,
			},
		},
	}

	return openaiprovider.NewWithClientConfig("openrouter", clientConfig), nil
}

// headerTransport adds custom headers to HTTP requests
type headerTransport struct {
	Base    http.RoundTripper
	Headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	return t.Base.RoundTrip(req)
}
