// Package narration turns scene narration text into an audio file.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyText is returned for blank narration. Callers render the scene silently.
var ErrEmptyText = errors.New("narration text is empty")

// ErrDisabled is returned by the none backend.
var ErrDisabled = errors.New("narration disabled")

// Synthesizer produces a narration audio file for text. The returned path is a
// temporary file owned by the caller, who removes it after use.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (string, error)
}

// None never produces audio.
type None struct{}

func (None) Name() string { return "none" }

func (None) Synthesize(ctx context.Context, text string) (string, error) {
	return "", ErrDisabled
}

// tempAudioPath reserves an empty temp file for a backend to overwrite.
func tempAudioPath(ext string) (string, error) {
	f, err := os.CreateTemp("", "narration-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create narration temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// checkAudio fails when path is missing or empty.
func checkAudio(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("narration audio missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("narration audio %s is empty", path)
	}
	return nil
}

func blank(text string) bool {
	return strings.TrimSpace(text) == ""
}
