package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhe.chen/explaind/internal/bounded"
)

// Generator sends one prompt to a text-generation backend and returns the raw reply.
// Implementations perform exactly one network call and never retry.
type Generator interface {
	// Name returns the provider name
	Name() string

	// Generate performs a single non-streaming completion
	Generate(ctx context.Context, req Request) (string, error)
}

// Provider is a Generator that may be missing credentials.
type Provider interface {
	Generator

	// IsEnabled returns whether the provider is configured with valid credentials
	IsEnabled() bool
}

// Request is a single generation request.
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
	Timeout     time.Duration // Zero means no deadline beyond ctx
}

// Call runs g under the request timeout and maps failures onto
// ErrUnavailable, ErrTimeout or ErrBackend.
func Call(ctx context.Context, g Generator, req Request) (string, error) {
	var text string
	err := bounded.Run(ctx, req.Timeout, func(ctx context.Context) error {
		var err error
		text, err = g.Generate(ctx, req)
		return err
	})
	if err != nil {
		return "", Classify(g.Name(), err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w: empty completion", g.Name(), ErrBackend)
	}
	return text, nil
}

// NewProvider factory lives in cmd/explaind to avoid import cycles.
// Each provider package (providers/ollama, providers/claude, providers/gemini,
// providers/openai, providers/openrouter) exports a NewProvider function.
