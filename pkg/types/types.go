package types

import "time"

// Config represents the application configuration
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Storyboard StoryboardConfig `yaml:"storyboard"`
	Script     ScriptConfig     `yaml:"script"`
	Render     RenderConfig     `yaml:"render"`
	Narration  NarrationConfig  `yaml:"narration"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Server     HTTPConfig       `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// LLMConfig selects and configures the text-generation backend
type LLMConfig struct {
	Provider    string        `yaml:"provider"`   // "ollama", "anthropic", "google", "openai", "openrouter"
	Model       string        `yaml:"model"`      // Model for storyboard and scene scripts
	CodeModel   string        `yaml:"code_model"` // Model for animation source; falls back to Model
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`

	// Provider-specific configurations
	Ollama     OllamaConfig     `yaml:"ollama"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Google     GoogleConfig     `yaml:"google"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// OllamaConfig for a local Ollama daemon
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // e.g., "http://localhost:11434"
}

// AnthropicConfig for Claude
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// GoogleConfig for Gemini
type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
}

// OpenAIConfig for GPT models
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	Organization string `yaml:"organization"` // Optional
	BaseURL      string `yaml:"base_url"`     // Optional, for compatible gateways
}

// OpenRouterConfig for OpenRouter's OpenAI-compatible API
type OpenRouterConfig struct {
	APIKey string `yaml:"api_key"`
}

// StoryboardConfig controls storyboard generation
type StoryboardConfig struct {
	Frames int `yaml:"frames"` // Frames requested from the backend
}

// ScriptConfig controls scene script generation
type ScriptConfig struct {
	MaxNarrationWords int `yaml:"max_narration_words"`
}

// RenderConfig defines renderer and muxer subprocesses
type RenderConfig struct {
	Command     string        `yaml:"command"`     // Renderer binary, default "manim"
	Quality     string        `yaml:"quality"`     // l, m, h, p or k
	Timeout     time.Duration `yaml:"timeout"`     // Per renderer invocation
	Parallelism int           `yaml:"parallelism"` // Scenes rendered at once by render-all
	FFmpeg      string        `yaml:"ffmpeg"`      // Muxer binary, default "ffmpeg"
	MuxTimeout  time.Duration `yaml:"mux_timeout"`
}

// NarrationConfig selects the narration synthesizer
type NarrationConfig struct {
	Backend string        `yaml:"backend"` // "command", "mcp" or "none"
	Command string        `yaml:"command"` // "edge-tts", "gtts" or a custom binary
	Voice   string        `yaml:"voice"`
	Timeout time.Duration `yaml:"timeout"`
	Tool    string        `yaml:"tool"`   // MCP tool name for the mcp backend
	Server  ServerConfig  `yaml:"server"` // MCP server for the mcp backend
}

// ServerConfig defines MCP server connection parameters
type ServerConfig struct {
	Name         string            `yaml:"name"`
	Command      []string          `yaml:"command"`           // For stdio transport
	URL          string            `yaml:"url"`               // For HTTP transport
	Transport    string            `yaml:"transport"`         // "stdio" or "http"
	Timeout      time.Duration     `yaml:"timeout"`
	Headers      map[string]string `yaml:"headers,omitempty"` // HTTP headers (e.g., Authorization)
	Capabilities struct {
		Tools []string `yaml:"tools"`
	} `yaml:"capabilities"`
}

// HTTPConfig configures the HTTP driver
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"` // gin mode: debug, release, test
}

// PipelineConfig defines run output parameters
type PipelineConfig struct {
	OutputDir     string `yaml:"output_dir"`
	WriteManifest bool   `yaml:"write_manifest"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // json or console
}

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolCallResult represents the result of a tool invocation
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// ContentBlock represents a content item in tool result
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image", "resource", "audio"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64 payload for image and audio blocks
	MimeType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
}
