package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhe.chen/explaind/pkg/types"
)

// Defaults applied to fields left empty in the YAML file.
const (
	DefaultProvider          = "ollama"
	DefaultModel             = "mistral"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultTemperature       = 0.7
	DefaultTimeout           = 300 * time.Second
	DefaultFrames            = 3
	DefaultMaxNarrationWords = 30
	DefaultQuality           = "l"
	DefaultOutputDir         = "output"
	DefaultAddr              = ":8080"
)

// defaultModels is the model used when llm.model is unset, per provider.
var defaultModels = map[string]string{
	"ollama":     DefaultModel,
	"anthropic":  "claude-3-5-sonnet-20241022",
	"claude":     "claude-3-5-sonnet-20241022",
	"google":     "gemini-2.0-flash-exp",
	"gemini":     "gemini-2.0-flash-exp",
	"openai":     "gpt-4o",
	"openrouter": "openai/gpt-4o",
}

var validProviders = map[string]bool{
	"ollama":     true,
	"anthropic":  true,
	"claude":     true,
	"google":     true,
	"gemini":     true,
	"openai":     true,
	"openrouter": true,
}

var validQualities = map[string]bool{"l": true, "m": true, "h": true, "p": true, "k": true}

var validNarrationBackends = map[string]bool{"command": true, "mcp": true, "none": true}

// Load reads the YAML configuration file, expands environment variables and
// applies defaults. A missing file yields the default configuration.
func Load(path string) (*types.Config, error) {
	var cfg types.Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *types.Config) {
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = DefaultProvider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModels[cfg.LLM.Provider]
	}
	if cfg.LLM.CodeModel == "" {
		cfg.LLM.CodeModel = cfg.LLM.Model
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = DefaultTemperature
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = DefaultTimeout
	}
	if cfg.LLM.Ollama.BaseURL == "" {
		cfg.LLM.Ollama.BaseURL = DefaultOllamaURL
	}
	if cfg.LLM.Anthropic.MaxTokens == 0 {
		cfg.LLM.Anthropic.MaxTokens = 4096
	}

	if cfg.Storyboard.Frames == 0 {
		cfg.Storyboard.Frames = DefaultFrames
	}
	if cfg.Script.MaxNarrationWords == 0 {
		cfg.Script.MaxNarrationWords = DefaultMaxNarrationWords
	}

	if cfg.Render.Command == "" {
		cfg.Render.Command = "manim"
	}
	if cfg.Render.Quality == "" {
		cfg.Render.Quality = DefaultQuality
	}
	if cfg.Render.Timeout == 0 {
		cfg.Render.Timeout = DefaultTimeout
	}
	if cfg.Render.Parallelism == 0 {
		cfg.Render.Parallelism = 1
	}
	if cfg.Render.FFmpeg == "" {
		cfg.Render.FFmpeg = "ffmpeg"
	}
	if cfg.Render.MuxTimeout == 0 {
		cfg.Render.MuxTimeout = DefaultTimeout
	}

	if cfg.Narration.Backend == "" {
		cfg.Narration.Backend = "command"
	}
	if cfg.Narration.Command == "" {
		cfg.Narration.Command = "edge-tts"
	}
	if cfg.Narration.Timeout == 0 {
		cfg.Narration.Timeout = 60 * time.Second
	}
	if cfg.Narration.Tool == "" {
		cfg.Narration.Tool = "text_to_speech"
	}
	if cfg.Narration.Server.Timeout == 0 {
		cfg.Narration.Server.Timeout = 60 * time.Second
	}

	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = DefaultOutputDir
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "console"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *types.Config) error {
	if !validProviders[cfg.LLM.Provider] {
		return fmt.Errorf("unsupported LLM provider: %s (supported: ollama, anthropic, google, openai, openrouter)", cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required for provider %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %.2f", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout < 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if cfg.Storyboard.Frames < 1 {
		return fmt.Errorf("storyboard.frames must be at least 1")
	}
	if cfg.Script.MaxNarrationWords < 1 {
		return fmt.Errorf("script.max_narration_words must be at least 1")
	}
	if !validQualities[cfg.Render.Quality] {
		return fmt.Errorf("render.quality must be one of l, m, h, p, k, got %q", cfg.Render.Quality)
	}
	if cfg.Render.Timeout < 0 || cfg.Render.MuxTimeout < 0 {
		return fmt.Errorf("render timeouts must be positive")
	}
	if cfg.Render.Parallelism < 1 {
		return fmt.Errorf("render.parallelism must be at least 1")
	}
	if !validNarrationBackends[cfg.Narration.Backend] {
		return fmt.Errorf("unsupported narration backend: %s (supported: command, mcp, none)", cfg.Narration.Backend)
	}
	if cfg.Narration.Backend == "mcp" {
		switch cfg.Narration.Server.Transport {
		case "stdio":
			if len(cfg.Narration.Server.Command) == 0 {
				return fmt.Errorf("narration.server.command required for stdio transport")
			}
		case "http":
			if cfg.Narration.Server.URL == "" {
				return fmt.Errorf("narration.server.url required for http transport")
			}
		default:
			return fmt.Errorf("unsupported transport type: %s", cfg.Narration.Server.Transport)
		}
	}
	return nil
}
