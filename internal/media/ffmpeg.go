package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhe.chen/explaind/internal/bounded"
	"github.com/zhe.chen/explaind/pkg/types"
)

// FFmpeg muxes narration into clips and concatenates clips
type FFmpeg struct {
	binary  string
	timeout time.Duration
	runner  bounded.Runner
}

// NewFFmpeg creates a muxer from the render config
func NewFFmpeg(cfg types.RenderConfig, runner bounded.Runner) *FFmpeg {
	if runner == nil {
		runner = bounded.ExecRunner{}
	}
	binary := cfg.FFmpeg
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, timeout: cfg.MuxTimeout, runner: runner}
}

// Mux combines a silent clip with narration audio into out.
// -c:v copy -c:a aac -shortest output.mp4
func (f *FFmpeg) Mux(ctx context.Context, video, audio, out string) error {
	return writeAtomic(out, func(partial string) error {
		output, err := f.runner.Run(ctx, f.timeout, f.binary, "-y",
			"-i", video,
			"-i", audio,
			"-c:v", "copy",
			"-c:a", "aac",
			"-shortest",
			"-map", "0:v:0",
			"-map", "1:a:0",
			partial,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg mux failed: %w\nOutput: %s", err, tail(output))
		}
		return nil
	})
}

// Concat joins inputs in order into out with the concat demuxer and stream copy.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("no clips to concatenate")
	}

	list, err := writeConcatList(inputs)
	if err != nil {
		return err
	}
	defer os.Remove(list)

	return writeAtomic(out, func(partial string) error {
		output, err := f.runner.Run(ctx, f.timeout, f.binary, "-y",
			"-f", "concat",
			"-safe", "0",
			"-i", list,
			"-c", "copy",
			"-fflags", "+bitexact",
			partial,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg concat failed: %w\nOutput: %s", err, tail(output))
		}
		return nil
	})
}

// writeConcatList writes the concat demuxer input list to a temp file.
func writeConcatList(inputs []string) (string, error) {
	f, err := os.CreateTemp("", "explaind-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}

	var b strings.Builder
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", err
		}
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(abs))
	}

	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// escapeConcatPath quotes a path for a single-quoted concat directive.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// CopyFile copies a clip to dst through a partial file.
func CopyFile(src, dst string) error {
	return writeAtomic(dst, func(partial string) error {
		in, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("failed to open clip: %w", err)
		}
		defer in.Close()

		out, err := os.Create(partial)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return fmt.Errorf("failed to copy output: %w", err)
		}
		return out.Close()
	})
}

// PartialPath is the sibling file an artifact is written to before it is
// renamed into place. It keeps the extension so ffmpeg picks the container.
func PartialPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".partial" + ext
}

// writeAtomic runs write against a partial path and renames it onto path only
// when write succeeds. A failed write leaves any previous file at path intact.
func writeAtomic(path string, write func(partial string) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	partial := PartialPath(path)
	if err := write(partial); err != nil {
		os.Remove(partial)
		return err
	}
	if _, err := os.Stat(partial); err != nil {
		return fmt.Errorf("%w: %s", ErrNoOutput, partial)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
