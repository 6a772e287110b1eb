package narration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/bounded"
	"github.com/zhe.chen/explaind/pkg/types"
)

// Command synthesizes narration with a local TTS binary. Known binaries are
// edge-tts and gtts-cli; anything else is called as `<bin> --text T --output F`.
type Command struct {
	binary  string
	voice   string
	timeout time.Duration
	runner  bounded.Runner
	logger  *zap.Logger
}

// NewCommand creates a command-line synthesizer
func NewCommand(cfg types.NarrationConfig, runner bounded.Runner, logger *zap.Logger) *Command {
	if runner == nil {
		runner = bounded.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	binary := cfg.Command
	if binary == "" {
		binary = "edge-tts"
	}
	return &Command{
		binary:  binary,
		voice:   cfg.Voice,
		timeout: cfg.Timeout,
		runner:  runner,
		logger:  logger,
	}
}

// Name returns the backend name
func (c *Command) Name() string {
	return "command:" + filepath.Base(c.binary)
}

// Synthesize runs the TTS binary and returns the audio path
func (c *Command) Synthesize(ctx context.Context, text string) (string, error) {
	if blank(text) {
		return "", ErrEmptyText
	}

	out, err := tempAudioPath(".mp3")
	if err != nil {
		return "", err
	}

	name, args := c.args(strings.TrimSpace(text), out)
	c.logger.Debug("Synthesizing narration", zap.String("binary", name), zap.Int("chars", len(text)))

	output, err := c.runner.Run(ctx, c.timeout, name, args...)
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("%s failed: %w\nOutput: %s", filepath.Base(name), err, strings.TrimSpace(string(output)))
	}
	if err := checkAudio(out); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func (c *Command) args(text, out string) (string, []string) {
	switch filepath.Base(c.binary) {
	case "edge-tts":
		args := []string{"--text", text, "--write-media", out}
		if c.voice != "" {
			args = append(args, "--voice", c.voice)
		}
		return c.binary, args
	case "gtts", "gtts-cli":
		name := c.binary
		if filepath.Base(name) == "gtts" {
			name = filepath.Join(filepath.Dir(name), "gtts-cli")
		}
		args := []string{text, "--output", out}
		if c.voice != "" {
			args = append(args, "--lang", c.voice)
		}
		return name, args
	default:
		args := []string{"--text", text, "--output", out}
		if c.voice != "" {
			args = append(args, "--voice", c.voice)
		}
		return c.binary, args
	}
}
