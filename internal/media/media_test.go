package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhe.chen/explaind/pkg/types"
)

// scriptedRunner runs a callback in place of a subprocess.
type scriptedRunner struct {
	fn    func(name string, args []string) ([]byte, error)
	calls [][]string
}

func (s *scriptedRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.fn(name, args)
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// fakeManim mimics manim's output layout under --media_dir.
func fakeManim(tier string) func(name string, args []string) ([]byte, error) {
	return func(name string, args []string) ([]byte, error) {
		script, scene := args[0], args[1]
		out := filepath.Join(argAfter(args, "--media_dir"), "videos",
			strings.TrimSuffix(filepath.Base(script), ".py"), tier, scene+".mp4")
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return nil, err
		}
		return []byte("File ready at " + out), os.WriteFile(out, []byte("clip:"+scene), 0o644)
	}
}

func TestQualityTier(t *testing.T) {
	tests := map[string]string{"l": "480p15", "m": "720p30", "h": "1080p60", "p": "1440p60", "k": "2160p60"}
	for quality, want := range tests {
		got, err := QualityTier(quality)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := QualityTier("x")
	require.Error(t, err)
}

func TestManimRender(t *testing.T) {
	runner := &scriptedRunner{fn: fakeManim("720p30")}
	renderer, err := NewManim(types.RenderConfig{Quality: "m"}, runner, nil)
	require.NoError(t, err)

	clip, err := renderer.Render(context.Background(), "class Scene2(Scene): pass", "Scene2")
	require.NoError(t, err)

	data, err := os.ReadFile(clip.Path)
	require.NoError(t, err)
	assert.Equal(t, "clip:Scene2", string(data))

	call := runner.calls[0]
	assert.Equal(t, "manim", call[0])
	assert.Equal(t, "Scene2", call[2])
	assert.Contains(t, call, "-qm")

	source, err := os.ReadFile(call[1])
	require.NoError(t, err)
	assert.Equal(t, "class Scene2(Scene): pass", string(source))

	require.NoError(t, clip.Cleanup())
	assert.NoFileExists(t, clip.Path)
	assert.NoFileExists(t, call[1])
}

func TestManimRenderFailures(t *testing.T) {
	t.Run("non-zero exit carries output", func(t *testing.T) {
		var script string
		runner := &scriptedRunner{fn: func(name string, args []string) ([]byte, error) {
			script = args[0]
			return []byte("NameError: name 'Circel' is not defined"), errors.New("exit status 1")
		}}
		renderer, err := NewManim(types.RenderConfig{}, runner, nil)
		require.NoError(t, err)

		_, err = renderer.Render(context.Background(), "broken", "Scene1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Circel")
		assert.NoDirExists(t, filepath.Dir(script), "work dir removed on failure")
	})

	t.Run("clean exit without clip", func(t *testing.T) {
		runner := &scriptedRunner{fn: func(name string, args []string) ([]byte, error) {
			return []byte("Nothing to render"), nil
		}}
		renderer, err := NewManim(types.RenderConfig{}, runner, nil)
		require.NoError(t, err)

		_, err = renderer.Render(context.Background(), "class Scene1(Scene): pass", "Scene1")
		require.ErrorIs(t, err, ErrNoOutput)
	})

	t.Run("unknown quality", func(t *testing.T) {
		_, err := NewManim(types.RenderConfig{Quality: "z"}, &scriptedRunner{}, nil)
		require.Error(t, err)
	})
}

// fakeFFmpeg writes the last argument, or fails with output.
func fakeFFmpeg(fail bool) func(name string, args []string) ([]byte, error) {
	return func(name string, args []string) ([]byte, error) {
		if fail {
			return []byte("Invalid data found when processing input"), errors.New("exit status 1")
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("muxed"), 0o644)
	}
}

func TestMux(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "run_1", "Scene1.mp4")

	runner := &scriptedRunner{fn: fakeFFmpeg(false)}
	require.NoError(t, NewFFmpeg(types.RenderConfig{}, runner).Mux(context.Background(), "clip.mp4", "voice.mp3", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "muxed", string(data))
	assert.NoFileExists(t, PartialPath(out))

	args := runner.calls[0]
	assert.Equal(t, "ffmpeg", args[0])
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "aac", "-shortest"}, args[6:11])
	assert.Equal(t, PartialPath(out), args[len(args)-1])
}

func TestMuxFailureKeepsPreviousArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "Scene1.mp4")
	require.NoError(t, os.WriteFile(out, []byte("previous"), 0o644))

	runner := &scriptedRunner{fn: fakeFFmpeg(true)}
	err := NewFFmpeg(types.RenderConfig{}, runner).Mux(context.Background(), "clip.mp4", "voice.mp3", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	assert.NoFileExists(t, PartialPath(out))
}

func TestConcat(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "Scene1.mp4"),
		filepath.Join(dir, "it's", "Scene2.mp4"),
	}
	out := filepath.Join(dir, "final_video_1.mp4")

	var listBody, listPath string
	runner := &scriptedRunner{fn: func(name string, args []string) ([]byte, error) {
		listPath = argAfter(args, "-i")
		data, err := os.ReadFile(listPath)
		if err != nil {
			return nil, err
		}
		listBody = string(data)
		return fakeFFmpeg(false)(name, args)
	}}

	require.NoError(t, NewFFmpeg(types.RenderConfig{}, runner).Concat(context.Background(), inputs, out))

	assert.Equal(t,
		"file '"+inputs[0]+"'\n"+"file '"+filepath.Join(dir, `it'\''s`, "Scene2.mp4")+"'\n",
		listBody)
	assert.NoFileExists(t, listPath, "concat list removed")
	assert.FileExists(t, out)

	args := runner.calls[0]
	assert.Contains(t, args, "+bitexact")
	assert.Equal(t, "concat", argAfter(args, "-f"))
	assert.Equal(t, "0", argAfter(args, "-safe"))
}

func TestConcatFailureRemovesList(t *testing.T) {
	var listPath string
	runner := &scriptedRunner{fn: func(name string, args []string) ([]byte, error) {
		listPath = argAfter(args, "-i")
		return fakeFFmpeg(true)(name, args)
	}}
	out := filepath.Join(t.TempDir(), "final.mp4")

	err := NewFFmpeg(types.RenderConfig{}, runner).Concat(context.Background(), []string{"/a.mp4"}, out)
	require.Error(t, err)
	assert.NoFileExists(t, listPath)
	assert.NoFileExists(t, out)

	require.Error(t, NewFFmpeg(types.RenderConfig{}, runner).Concat(context.Background(), nil, out))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("silent"), 0o644))

	dst := filepath.Join(dir, "out", "Scene3.mp4")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "silent", string(data))

	require.Error(t, CopyFile(filepath.Join(dir, "missing.mp4"), dst))
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "silent", string(data))
}
