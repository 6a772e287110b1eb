package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/zhe.chen/explaind/internal/events"
	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/pkg/types"
)

type harness struct {
	dir      string
	gen      *scriptedGenerator
	renderer *fakeRenderer
	muxer    *fakeMuxer
	narrator *fakeNarrator
	bus      *events.Bus
	orch     *Orchestrator
}

func newHarness(t *testing.T, tweak ...func(*types.Config)) *harness {
	t.Helper()
	return newHarnessWith(t, newPhotosynthesisGenerator(), tweak...)
}

func newHarnessWith(t *testing.T, gen *scriptedGenerator, tweak ...func(*types.Config)) *harness {
	t.Helper()
	h := &harness{
		dir:      t.TempDir(),
		gen:      gen,
		renderer: newFakeRenderer(t),
		muxer:    &fakeMuxer{},
		narrator: &fakeNarrator{dir: t.TempDir()},
		bus:      events.NewBus(),
	}
	t.Cleanup(h.bus.Close)

	cfg := testConfig(h.dir)
	for _, f := range tweak {
		f(cfg)
	}

	orch, err := New(cfg, Deps{
		Generator: h.gen,
		Renderer:  h.renderer,
		Muxer:     h.muxer,
		Narrator:  h.narrator,
		Bus:       h.bus,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) start(t *testing.T) *Run {
	t.Helper()
	run, err := h.orch.StartRun(context.Background(), "Photosynthesis", "High School Student")
	require.NoError(t, err)
	return run
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestPhotosynthesisEndToEnd(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe(nil)

	run := h.start(t)
	assert.Equal(t, int64(1), run.ID())

	manifest := run.Manifest()
	assert.Equal(t, RunReady, manifest.Status)
	require.Len(t, manifest.Scenes, 3)
	for i, s := range manifest.Scenes {
		assert.Equal(t, i+1, s.Number)
		assert.Equal(t, photosynthesisFrames[i].Title, s.Title)
		assert.Equal(t, SceneScripted, s.State)
		assert.Contains(t, s.SourceCode, "class "+SceneIdentifier(i+1)+"(Scene):")
		assert.NotContains(t, s.SourceCode, "```")
		assert.NotEmpty(t, s.Narration)
	}

	require.NoError(t, h.orch.RenderAll(context.Background(), run))

	manifest = run.Manifest()
	assert.Equal(t, 3, manifest.Rendered())
	for _, s := range manifest.Scenes {
		assert.True(t, s.Narrated)
		assert.Equal(t, filepath.Join(h.dir, "run_1", s.Identifier+".mp4"), s.ArtifactPath)
		assert.FileExists(t, s.ArtifactPath)
	}

	final, err := h.orch.Finalize(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, "final_video_1.mp4"), final)

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "video:Scene1+audio|video:Scene2+audio|video:Scene3+audio", string(data))

	saved, err := LoadManifest(filepath.Join(h.dir, "run_1.json"))
	require.NoError(t, err)
	assert.Equal(t, RunFinalized, saved.Status)
	assert.Equal(t, final, saved.FinalArtifactPath)
	assert.Equal(t, StatusCompleted, saved.Stages[StageStitch].Status)

	got := drain(sub)
	require.NotEmpty(t, got)
	assert.Equal(t, events.RunStarted, got[0].Kind)
	assert.Equal(t, events.RunFinalized, got[len(got)-1].Kind)
	h.bus.Unsubscribe(sub)
}

func TestSceneCountFollowsStoryboard(t *testing.T) {
	for _, frames := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("%d frames", frames), func(t *testing.T) {
			h := newHarnessWith(t, newStoryboardGenerator(numberedFrames(frames)))
			run := h.start(t)

			manifest := run.Manifest()
			require.Len(t, manifest.Scenes, frames)
			for i, s := range manifest.Scenes {
				assert.Equal(t, i+1, s.Number)
				assert.Equal(t, SceneIdentifier(i+1), s.Identifier)
			}

			require.NoError(t, h.orch.RenderAll(context.Background(), run))
			final, err := h.orch.Finalize(context.Background(), run)
			require.NoError(t, err)

			parts := make([]string, frames)
			for i := range parts {
				parts[i] = "video:" + SceneIdentifier(i+1) + "+audio"
			}
			data, err := os.ReadFile(final)
			require.NoError(t, err)
			assert.Equal(t, strings.Join(parts, "|"), string(data))
			require.Len(t, h.muxer.concats, 1)
			assert.Len(t, h.muxer.concats[0], frames)
		})
	}
}

func TestParallelRendersKeepReportCurrent(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarnessWith(t, newStoryboardGenerator(numberedFrames(4)), func(cfg *types.Config) {
			cfg.Render.Parallelism = 3
		})
		run := h.start(t)
		require.NoError(t, h.orch.RenderAll(context.Background(), run))

		saved, err := LoadManifest(h.orch.ManifestPath(run.ID()))
		require.NoError(t, err)
		require.Equal(t, run.Manifest().Rendered(), saved.Rendered(), "iteration %d", i)
		assert.Equal(t, 4, saved.Rendered())

		leftovers, err := filepath.Glob(filepath.Join(h.dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	run := h.start(t)
	require.NoError(t, h.orch.RenderAll(context.Background(), run))

	first, err := h.orch.Finalize(context.Background(), run)
	require.NoError(t, err)
	before, err := os.ReadFile(first)
	require.NoError(t, err)

	second, err := h.orch.Finalize(context.Background(), run)
	require.NoError(t, err)
	after, err := os.ReadFile(second)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
	require.Len(t, h.muxer.concats, 2)
	assert.Equal(t, h.muxer.concats[0], h.muxer.concats[1])
}

func TestStartRunBackendUnreachable(t *testing.T) {
	h := newHarness(t)
	h.gen.err = &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}

	run, err := h.orch.StartRun(context.Background(), "Photosynthesis", "High School Student")
	require.Error(t, err)
	assert.Nil(t, run)

	assert.ErrorIs(t, err, ErrPipelineAborted)
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Equal(t, KindPipelineAborted, KindOf(err))

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, StageStoryboard, abort.Stage)
	assert.Equal(t, KindBackendUnavailable, KindOf(abort.Cause))

	current, ok := h.orch.Current()
	require.True(t, ok)
	manifest := current.Manifest()
	assert.Equal(t, RunAborted, manifest.Status)
	assert.Empty(t, manifest.Scenes)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartRunMalformedScript(t *testing.T) {
	h := newHarness(t)
	h.gen.scripts[photosynthesisFrames[1].Description] = "I would rather not."

	_, err := h.orch.StartRun(context.Background(), "Photosynthesis", "High School Student")
	require.ErrorIs(t, err, ErrPipelineAborted)

	var stageErr *Error
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, KindMalformedResponse, stageErr.Kind)
	assert.Equal(t, StageScript, stageErr.Stage)
	assert.Equal(t, 2, stageErr.Scene)

	current, _ := h.orch.Current()
	assert.Empty(t, current.Manifest().Scenes)
}

func TestStartRunInvalidInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.StartRun(context.Background(), "   ", "High School Student")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, err = h.orch.StartRun(context.Background(), "Photosynthesis", "")
	assert.Equal(t, KindInvalidInput, KindOf(err))

	_, ok := h.orch.Current()
	assert.False(t, ok)
	assert.Zero(t, h.gen.calls)
}

func TestNarrationFailureRendersSilently(t *testing.T) {
	h := newHarness(t)
	h.narrator.err = errors.New("edge-tts: connection reset")
	run := h.start(t)

	record, err := h.orch.RenderScene(context.Background(), run, 1)
	require.NoError(t, err)
	assert.Equal(t, SceneRendered, record.State)
	assert.False(t, record.Narrated)
	assert.Zero(t, h.muxer.muxCount())

	data, err := os.ReadFile(record.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "video:Scene1", string(data))
}

func TestRenderFailureIsIsolatedAndRetryable(t *testing.T) {
	h := newHarness(t, func(cfg *types.Config) { cfg.Render.Parallelism = 3 })
	h.renderer.setFailure("Scene2", errors.New("NameError: name 'Circl' is not defined"))
	run := h.start(t)

	err := h.orch.RenderAll(context.Background(), run)
	require.Error(t, err)
	assert.Equal(t, KindRenderFailure, KindOf(err))

	manifest := run.Manifest()
	assert.Equal(t, SceneRendered, manifest.Scenes[0].State)
	assert.Equal(t, SceneRenderFailed, manifest.Scenes[1].State)
	assert.Equal(t, SceneRendered, manifest.Scenes[2].State)
	assert.Equal(t, KindRenderFailure, manifest.Scenes[1].LastErrorKind)
	assert.Contains(t, manifest.Scenes[1].LastError, "NameError")
	assert.NoFileExists(t, filepath.Join(h.dir, "run_1", "Scene2.mp4"))

	_, err = h.orch.Finalize(context.Background(), run)
	assert.Equal(t, KindStitchFailure, KindOf(err))
	assert.Contains(t, err.Error(), "scene 2")
	assert.NoFileExists(t, filepath.Join(h.dir, "final_video_1.mp4"))

	h.renderer.setFailure("Scene2", nil)
	record, err := h.orch.RetryScene(context.Background(), run, 2)
	require.NoError(t, err)
	assert.Equal(t, SceneRendered, record.State)
	assert.Equal(t, 2, record.Attempts)
	assert.Empty(t, record.LastError)

	// siblings were not re-rendered
	assert.Equal(t, 1, h.renderer.callCount("Scene1"))
	assert.Equal(t, 1, h.renderer.callCount("Scene3"))

	_, err = h.orch.Finalize(context.Background(), run)
	require.NoError(t, err)
}

func TestRenderAllSkipsRenderedScenes(t *testing.T) {
	h := newHarness(t)
	run := h.start(t)

	_, err := h.orch.RenderScene(context.Background(), run, 2)
	require.NoError(t, err)
	require.NoError(t, h.orch.RenderAll(context.Background(), run))

	assert.Equal(t, 1, h.renderer.callCount("Scene2"))
	assert.Equal(t, 3, run.Manifest().Rendered())
}

func TestSceneTransitionsRejected(t *testing.T) {
	h := newHarness(t)
	run := h.start(t)

	_, err := h.orch.RetryScene(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = h.orch.RenderScene(context.Background(), run, 1)
	require.NoError(t, err)

	_, err = h.orch.RenderScene(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrAlreadyRendered)

	_, err = h.orch.RetryScene(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrNotRetryable)

	_, err = h.orch.RenderScene(context.Background(), run, 4)
	assert.ErrorIs(t, err, ErrSceneNotFound)
	_, err = h.orch.RenderScene(context.Background(), run, 0)
	assert.ErrorIs(t, err, ErrSceneNotFound)
}

func TestRenderSceneBusy(t *testing.T) {
	h := newHarness(t)
	run := h.start(t)

	h.renderer.mu.Lock()
	h.renderer.started = make(chan string, 1)
	h.renderer.release = make(chan struct{})
	h.renderer.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.RenderScene(context.Background(), run, 1)
		done <- err
	}()
	assert.Equal(t, "Scene1", <-h.renderer.started)

	record, err := run.SceneRecord(1)
	require.NoError(t, err)
	assert.Equal(t, SceneRendering, record.State)

	_, err = h.orch.RenderScene(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrSceneBusy)
	_, err = h.orch.RetryScene(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrSceneBusy)
	_, err = h.orch.RegenerateCode(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrSceneBusy)

	close(h.renderer.release)
	require.NoError(t, <-done)
}

func TestPlaceholderSceneAndRegenerate(t *testing.T) {
	h := newHarness(t)
	h.gen.setCode(2, "```python\n```")
	run := h.start(t)

	record, err := run.SceneRecord(2)
	require.NoError(t, err)
	assert.Equal(t, GenerationFailedPlaceholder, record.SourceCode)
	assert.Equal(t, SceneScripted, record.State)

	record, err = h.orch.RenderScene(context.Background(), run, 2)
	require.Error(t, err)
	assert.Equal(t, KindCodeGenerationFailed, KindOf(err))
	assert.Equal(t, SceneRenderFailed, record.State)
	assert.Zero(t, h.renderer.callCount("Scene2"))

	// backend still returns nothing
	_, err = h.orch.RegenerateCode(context.Background(), run, 2)
	assert.Equal(t, KindCodeGenerationFailed, KindOf(err))

	h.gen.setCode(2, sceneSource(2))
	record, err = h.orch.RegenerateCode(context.Background(), run, 2)
	require.NoError(t, err)
	assert.Contains(t, record.SourceCode, "class Scene2(Scene):")
	assert.Equal(t, SceneScripted, record.State)

	record, err = h.orch.RenderScene(context.Background(), run, 2)
	require.NoError(t, err)
	assert.Equal(t, SceneRendered, record.State)

	_, err = h.orch.RegenerateCode(context.Background(), run, 1)
	assert.ErrorIs(t, err, ErrSourceImmutable)
}

func TestNewRunSupersedesOld(t *testing.T) {
	h := newHarness(t)
	first := h.start(t)
	second := h.start(t)
	assert.Equal(t, first.ID()+1, second.ID())

	_, err := h.orch.Run(first.ID())
	assert.ErrorIs(t, err, ErrRunSuperseded)

	_, err = h.orch.RenderScene(context.Background(), first, 1)
	assert.ErrorIs(t, err, ErrRunSuperseded)
	_, err = h.orch.Finalize(context.Background(), first)
	assert.ErrorIs(t, err, ErrRunSuperseded)

	got, err := h.orch.Run(second.ID())
	require.NoError(t, err)
	assert.Same(t, second, got)

	_, err = h.orch.Run(99)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunIDsContinueAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "final_video_7.mp4"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "run_4"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	assert.Equal(t, int64(7), highestRunID(dir))
	assert.Zero(t, highestRunID(filepath.Join(dir, "missing")))

	orch, err := New(testConfig(dir), Deps{
		Generator: newPhotosynthesisGenerator(),
		Renderer:  newFakeRenderer(t),
		Muxer:     &fakeMuxer{},
	}, zap.NewNop())
	require.NoError(t, err)

	run, err := orch.StartRun(context.Background(), "Photosynthesis", "High School Student")
	require.NoError(t, err)
	assert.Equal(t, int64(8), run.ID())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(t.TempDir()), Deps{}, nil)
	require.Error(t, err)

	_, err = New(testConfig(t.TempDir()), Deps{Generator: newPhotosynthesisGenerator()}, nil)
	require.Error(t, err)
}
