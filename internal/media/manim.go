// Package media drives the external renderer and muxer subprocesses.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/bounded"
	"github.com/zhe.chen/explaind/pkg/types"
)

const scriptName = "manim_script.py"

// ErrNoOutput is returned when the renderer exits cleanly without producing the clip.
var ErrNoOutput = errors.New("renderer produced no output")

var qualityTiers = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
	"p": "1440p60",
	"k": "2160p60",
}

// QualityTier maps a manim quality flag to the directory name it renders into.
func QualityTier(quality string) (string, error) {
	tier, ok := qualityTiers[quality]
	if !ok {
		return "", fmt.Errorf("unknown render quality %q", quality)
	}
	return tier, nil
}

// Clip is a rendered silent clip living in a private work directory.
type Clip struct {
	Path string
	dir  string
}

// Cleanup removes the clip and its work directory.
func (c *Clip) Cleanup() error {
	if c == nil || c.dir == "" {
		return nil
	}
	return os.RemoveAll(c.dir)
}

// Manim renders animation source with the manim CLI
type Manim struct {
	binary  string
	quality string
	timeout time.Duration
	runner  bounded.Runner
	logger  *zap.Logger
}

// NewManim creates a renderer from the render config
func NewManim(cfg types.RenderConfig, runner bounded.Runner, logger *zap.Logger) (*Manim, error) {
	if runner == nil {
		runner = bounded.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	quality := cfg.Quality
	if quality == "" {
		quality = "l"
	}
	if _, err := QualityTier(quality); err != nil {
		return nil, err
	}
	binary := cfg.Command
	if binary == "" {
		binary = "manim"
	}
	return &Manim{
		binary:  binary,
		quality: quality,
		timeout: cfg.Timeout,
		runner:  runner,
		logger:  logger,
	}, nil
}

// Render writes source to a fresh work directory and renders the class named
// sceneID. On success the caller owns the returned clip and must Cleanup it.
func (m *Manim) Render(ctx context.Context, source, sceneID string) (*Clip, error) {
	dir, err := os.MkdirTemp("", "explaind-render-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create render dir: %w", err)
	}
	clip := &Clip{dir: dir}

	script := filepath.Join(dir, scriptName)
	if err := os.WriteFile(script, []byte(source), 0o644); err != nil {
		clip.Cleanup()
		return nil, fmt.Errorf("failed to write scene source: %w", err)
	}

	mediaDir := filepath.Join(dir, "media")
	start := time.Now()
	output, err := m.runner.Run(ctx, m.timeout, m.binary,
		script, sceneID,
		"-q"+m.quality,
		"--media_dir", mediaDir,
	)
	if err != nil {
		clip.Cleanup()
		return nil, fmt.Errorf("manim failed: %w\nOutput: %s", err, tail(output))
	}

	tier, _ := QualityTier(m.quality)
	clip.Path = filepath.Join(mediaDir, "videos", strings.TrimSuffix(scriptName, ".py"), tier, sceneID+".mp4")
	if _, err := os.Stat(clip.Path); err != nil {
		clip.Cleanup()
		return nil, fmt.Errorf("%w: expected %s\nOutput: %s", ErrNoOutput, clip.Path, tail(output))
	}

	m.logger.Debug("Rendered clip",
		zap.String("scene", sceneID),
		zap.Duration("duration", time.Since(start)))
	return clip, nil
}

// tail keeps the end of a subprocess log, where manim and ffmpeg print the error.
func tail(output []byte) string {
	const limit = 4096
	s := strings.TrimSpace(string(output))
	if len(s) > limit {
		s = "..." + s[len(s)-limit:]
	}
	return s
}
