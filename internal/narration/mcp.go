package narration

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/bounded"
	"github.com/zhe.chen/explaind/internal/client"
	"github.com/zhe.chen/explaind/pkg/types"
)

// ToolCaller is the part of client.MCPClient the MCP backend needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*types.ToolCallResult, error)
}

// MCP synthesizes narration through a text-to-speech tool on an MCP server.
// The tool receives {text, output_path, voice} and answers with either an
// audio content block or a text block naming the file it wrote.
type MCP struct {
	caller  ToolCaller
	tool    string
	voice   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewMCP creates an MCP-backed synthesizer
func NewMCP(caller ToolCaller, cfg types.NarrationConfig, logger *zap.Logger) *MCP {
	if logger == nil {
		logger = zap.NewNop()
	}
	tool := cfg.Tool
	if tool == "" {
		tool = "text_to_speech"
	}
	return &MCP{
		caller:  caller,
		tool:    tool,
		voice:   cfg.Voice,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Name returns the backend name
func (m *MCP) Name() string {
	return "mcp:" + m.tool
}

// Synthesize calls the tool and materializes its audio as a local file
func (m *MCP) Synthesize(ctx context.Context, text string) (string, error) {
	if blank(text) {
		return "", ErrEmptyText
	}

	out, err := tempAudioPath(".mp3")
	if err != nil {
		return "", err
	}

	args := map[string]interface{}{
		"text":        strings.TrimSpace(text),
		"output_path": out,
	}
	if m.voice != "" {
		args["voice"] = m.voice
	}

	var result *types.ToolCallResult
	err = bounded.Run(ctx, m.timeout, func(ctx context.Context) error {
		var err error
		result, err = m.caller.CallTool(ctx, m.tool, args)
		return err
	})
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("%s failed: %w", m.tool, err)
	}

	if err := m.materialize(result, out); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func (m *MCP) materialize(result *types.ToolCallResult, out string) error {
	if audio, ok := client.FirstContent(result, "audio"); ok {
		data, err := base64.StdEncoding.DecodeString(audio.Data)
		if err != nil {
			return fmt.Errorf("failed to decode audio content: %w", err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write narration audio: %w", err)
		}
		return checkAudio(out)
	}

	// The tool wrote the file itself, possibly to a path of its choosing
	if block, ok := client.FirstContent(result, "text"); ok {
		written := strings.TrimSpace(block.Text)
		if written != "" && filepath.IsAbs(written) && written != out {
			m.logger.Debug("Tool wrote narration elsewhere", zap.String("path", written))
			if err := moveFile(written, out); err != nil {
				return err
			}
		}
	}
	return checkAudio(out)
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read narration audio: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write narration audio: %w", err)
	}
	return os.Remove(src)
}

// Dial connects to the configured MCP server and returns a synthesizer plus
// the client to close on shutdown.
func Dial(ctx context.Context, cfg types.NarrationConfig, logger *zap.Logger) (*MCP, *client.Client, error) {
	server := cfg.Server
	tool := cfg.Tool
	if tool == "" {
		tool = "text_to_speech"
	}
	if len(server.Capabilities.Tools) == 0 {
		server.Capabilities.Tools = []string{tool}
	}

	c, err := client.Dial(ctx, server, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect narration server: %w", err)
	}
	return NewMCP(c, cfg, logger), c, nil
}
