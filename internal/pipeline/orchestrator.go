package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhe.chen/explaind/internal/events"
	"github.com/zhe.chen/explaind/internal/llm"
	"github.com/zhe.chen/explaind/internal/narration"
	"github.com/zhe.chen/explaind/pkg/types"
)

// Deps are the external collaborators of the orchestrator
type Deps struct {
	Generator llm.Generator
	Renderer  Renderer
	Muxer     Muxer
	Narrator  narration.Synthesizer
	Bus       *events.Bus
}

// Orchestrator owns the current run and mediates every stage transition
type Orchestrator struct {
	storyboard *StoryboardStage
	script     *ScriptStage
	code       *CodeStage
	render     *RenderStage
	stitch     *StitchStage

	outputDir     string
	writeManifest bool
	parallelism   int
	bus           *events.Bus
	logger        *zap.Logger

	mu      sync.Mutex
	lastID  int64
	current *Run
}

// New creates an orchestrator from the loaded configuration
func New(cfg *types.Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Renderer == nil || deps.Muxer == nil {
		return nil, errors.New("renderer and muxer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	explain := GenerationSettings{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}
	code := explain
	if cfg.LLM.CodeModel != "" {
		code.Model = cfg.LLM.CodeModel
	}

	parallelism := cfg.Render.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	o := &Orchestrator{
		storyboard:    NewStoryboardStage(deps.Generator, explain, cfg.Storyboard.Frames, logger),
		script:        NewScriptStage(deps.Generator, explain, cfg.Script.MaxNarrationWords, logger),
		code:          NewCodeStage(deps.Generator, code, logger),
		render:        NewRenderStage(deps.Renderer, deps.Muxer, deps.Narrator, logger),
		stitch:        NewStitchStage(deps.Muxer, logger),
		outputDir:     cfg.Pipeline.OutputDir,
		writeManifest: cfg.Pipeline.WriteManifest,
		parallelism:   parallelism,
		bus:           deps.Bus,
		logger:        logger.Named("orchestrator"),
	}
	o.lastID = highestRunID(o.outputDir)
	return o, nil
}

var runArtifact = regexp.MustCompile(`^(?:run_|final_video_)(\d+)(?:\.json|\.mp4)?$`)

// highestRunID finds the largest run id already used in dir so a restarted
// process never reuses an output path.
func highestRunID(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var highest int64
	for _, e := range entries {
		m := runArtifact.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id > highest {
			highest = id
		}
	}
	return highest
}

// StartRun validates the request, supersedes the current run and scripts every
// scene synchronously. If any generation stage comes back empty the run is
// aborted with an *AbortError and has no scenes.
func (o *Orchestrator) StartRun(ctx context.Context, topic, audience string) (*Run, error) {
	topic = strings.TrimSpace(topic)
	audience = strings.TrimSpace(audience)
	if topic == "" {
		return nil, &Error{Kind: KindInvalidInput, Stage: StageInput, Detail: "topic is required"}
	}
	if audience == "" {
		return nil, &Error{Kind: KindInvalidInput, Stage: StageInput, Detail: "audience is required"}
	}

	o.mu.Lock()
	o.lastID++
	run := newRun(o.lastID, topic, audience, o.outputDir)
	o.current = run
	o.mu.Unlock()

	logger := o.logger.With(zap.Int64("run_id", run.id))
	logger.Info("Starting run", zap.String("topic", topic), zap.String("audience", audience))
	o.publish(events.Event{RunID: run.id, Kind: events.RunStarted, Message: topic})

	start := time.Now()
	scenes, err := o.scriptScenes(ctx, run)
	if err != nil {
		stage := StageOf(err)
		run.FailStage(stage, err)
		run.setStatus(RunAborted)
		logger.Error("Run aborted", zap.String("stage", string(stage)), zap.Error(err))
		o.publish(events.Event{RunID: run.id, Kind: events.RunAborted, Message: err.Error()})
		return nil, &AbortError{RunID: run.id, Stage: stage, Cause: err}
	}

	run.attachScenes(scenes)
	o.saveManifest(run)
	logger.Info("Run scripted", zap.Int("scenes", len(scenes)), zap.Duration("duration", time.Since(start)))
	o.publish(events.Event{RunID: run.id, Kind: events.RunScripted, Message: fmt.Sprintf("%d scenes", len(scenes))})
	for _, s := range scenes {
		o.publishScene(run, s.number, SceneScripted, "")
	}
	return run, nil
}

// scriptScenes runs storyboard, script and code synthesis. Scenes are only
// returned when every stage produced output.
func (o *Orchestrator) scriptScenes(ctx context.Context, run *Run) ([]*Scene, error) {
	run.StartStage(StageStoryboard)
	frames, err := o.storyboard.Build(ctx, run.topic, run.audience)
	if err != nil {
		return nil, err
	}
	run.CompleteStage(StageStoryboard)

	run.StartStage(StageScript)
	scripts := make([]SceneScript, len(frames))
	for i, f := range frames {
		script, err := o.script.Expand(ctx, i+1, f.Description)
		if err != nil {
			return nil, err
		}
		scripts[i] = script
	}
	run.CompleteStage(StageScript)

	run.StartStage(StageCode)
	scenes := make([]*Scene, len(frames))
	for i, f := range frames {
		n := i + 1
		scenes[i] = &Scene{
			number:          n,
			title:           f.Title,
			description:     f.Description,
			narration:       scripts[i].Narration,
			animationIntent: scripts[i].AnimationIntent,
			sourceCode:      o.code.Synthesize(ctx, scripts[i].AnimationIntent, n),
			state:           SceneScripted,
		}
	}
	run.CompleteStage(StageCode)
	return scenes, nil
}

// Current returns the run the orchestrator is tracking
func (o *Orchestrator) Current() (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.current != nil
}

// Run looks up a run by id. Only the current run is retained.
func (o *Orchestrator) Run(id int64) (*Run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.current != nil && o.current.id == id:
		return o.current, nil
	case o.current != nil && id > 0 && id < o.current.id:
		return nil, fmt.Errorf("%w: run %d", ErrRunSuperseded, id)
	default:
		return nil, fmt.Errorf("%w: run %d", ErrRunNotFound, id)
	}
}

func (o *Orchestrator) checkCurrent(run *Run) error {
	if run == nil {
		return ErrRunNotFound
	}
	_, err := o.Run(run.id)
	return err
}

// RenderScene renders one scene. A RenderFailed scene is retried implicitly;
// sibling scenes are never touched.
func (o *Orchestrator) RenderScene(ctx context.Context, run *Run, n int) (SceneRecord, error) {
	if err := o.checkCurrent(run); err != nil {
		return SceneRecord{}, err
	}
	scene, err := run.scene(n)
	if err != nil {
		return SceneRecord{}, err
	}

	if !scene.renderMu.TryLock() {
		return SceneRecord{}, fmt.Errorf("%w: scene %d", ErrSceneBusy, n)
	}
	defer scene.renderMu.Unlock()

	return o.renderLocked(ctx, run, scene)
}

// RetryScene resets a failed scene to Scripted and renders it again with
// the same source.
func (o *Orchestrator) RetryScene(ctx context.Context, run *Run, n int) (SceneRecord, error) {
	if err := o.checkCurrent(run); err != nil {
		return SceneRecord{}, err
	}
	scene, err := run.scene(n)
	if err != nil {
		return SceneRecord{}, err
	}

	if !scene.renderMu.TryLock() {
		return SceneRecord{}, fmt.Errorf("%w: scene %d", ErrSceneBusy, n)
	}
	defer scene.renderMu.Unlock()

	if err := run.resetScene(scene); err != nil {
		return SceneRecord{}, err
	}
	o.publishScene(run, n, SceneScripted, "retry requested")

	return o.renderLocked(ctx, run, scene)
}

// renderLocked runs the render chain. The caller holds scene.renderMu.
func (o *Orchestrator) renderLocked(ctx context.Context, run *Run, scene *Scene) (SceneRecord, error) {
	n := scene.number
	logger := o.logger.With(zap.Int64("run_id", run.id), zap.Int("scene", n))

	if err := run.beginRender(scene); err != nil {
		return SceneRecord{}, err
	}
	o.saveManifest(run)
	o.publishScene(run, n, SceneRendering, "")

	source, text := run.renderInputs(scene)
	output := o.scenePath(run.id, n)

	start := time.Now()
	result, err := o.render.Render(ctx, RenderRequest{
		Scene:      n,
		SceneID:    SceneIdentifier(n),
		Source:     source,
		Narration:  text,
		OutputPath: output,
	})
	if err != nil {
		// Never leave an artifact from an earlier process at the canonical path
		if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("Failed to clear scene output", zap.Error(rmErr))
		}
	}
	run.finishRender(scene, result, err)
	o.saveManifest(run)

	record, _ := run.SceneRecord(n)
	if err != nil {
		logger.Warn("Scene render failed",
			zap.String("stage", string(StageOf(err))),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		o.publishScene(run, n, SceneRenderFailed, err.Error())
		return record, err
	}

	logger.Info("Scene rendered",
		zap.String("path", result.Path),
		zap.Bool("narrated", result.Narrated),
		zap.Duration("duration", time.Since(start)))
	o.publishScene(run, n, SceneRendered, result.Path)
	return record, nil
}

// RegenerateCode re-runs code synthesis for a scene whose source is the
// generation-failed placeholder. Generated source is never replaced.
func (o *Orchestrator) RegenerateCode(ctx context.Context, run *Run, n int) (SceneRecord, error) {
	if err := o.checkCurrent(run); err != nil {
		return SceneRecord{}, err
	}
	scene, err := run.scene(n)
	if err != nil {
		return SceneRecord{}, err
	}

	if !scene.renderMu.TryLock() {
		return SceneRecord{}, fmt.Errorf("%w: scene %d", ErrSceneBusy, n)
	}
	defer scene.renderMu.Unlock()

	run.mu.RLock()
	current, intent := scene.sourceCode, scene.animationIntent
	run.mu.RUnlock()
	if !IsPlaceholder(current) {
		return SceneRecord{}, fmt.Errorf("%w: scene %d", ErrSourceImmutable, n)
	}

	code, err := o.code.generate(ctx, intent, n)
	if err != nil {
		record, _ := run.SceneRecord(n)
		return record, err
	}
	if err := run.replaceSource(scene, code); err != nil {
		return SceneRecord{}, err
	}
	o.saveManifest(run)
	o.publishScene(run, n, SceneScripted, "source regenerated")

	return run.SceneRecord(n)
}

// RenderAll renders every scene that is not yet Rendered, at most
// render.parallelism at a time. Scene failures are collected and joined;
// they do not stop the other scenes.
func (o *Orchestrator) RenderAll(ctx context.Context, run *Run) error {
	if err := o.checkCurrent(run); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(o.parallelism)

	for _, n := range run.sceneNumbers() {
		scene, err := run.scene(n)
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			continue
		}
		if run.sceneState(scene) == SceneRendered {
			continue
		}

		g.Go(func() error {
			if _, err := o.RenderScene(ctx, run, n); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// Finalize stitches every Rendered scene into output/final_video_<id>.mp4.
// Calling it again re-stitches the same inputs.
func (o *Orchestrator) Finalize(ctx context.Context, run *Run) (string, error) {
	if err := o.checkCurrent(run); err != nil {
		return "", err
	}

	run.finalizeMu.Lock()
	defer run.finalizeMu.Unlock()

	run.StartStage(StageStitch)
	paths, err := run.renderedPaths()
	if err != nil {
		err = &Error{Kind: KindStitchFailure, Stage: StageStitch, Detail: err.Error()}
		return "", o.failFinalize(run, err)
	}

	output := o.finalPath(run.id)
	if err := o.stitch.Stitch(ctx, paths, output); err != nil {
		return "", o.failFinalize(run, err)
	}

	run.CompleteStage(StageStitch)
	run.setFinal(output)
	o.saveManifest(run)
	o.publish(events.Event{RunID: run.id, Kind: events.RunFinalized, Message: output})
	return output, nil
}

func (o *Orchestrator) failFinalize(run *Run, err error) error {
	run.FailStage(StageStitch, err)
	o.saveManifest(run)
	o.logger.Warn("Finalize failed", zap.Int64("run_id", run.id), zap.Error(err))
	o.publish(events.Event{RunID: run.id, Kind: events.FinalizeFail, Message: err.Error()})
	return err
}

// scenePath is output/run_<id>/Scene<N>.mp4
func (o *Orchestrator) scenePath(runID int64, n int) string {
	return filepath.Join(o.outputDir, fmt.Sprintf("run_%d", runID), SceneIdentifier(n)+".mp4")
}

// finalPath is output/final_video_<id>.mp4
func (o *Orchestrator) finalPath(runID int64) string {
	return filepath.Join(o.outputDir, fmt.Sprintf("final_video_%d.mp4", runID))
}

// ManifestPath is output/run_<id>.json
func (o *Orchestrator) ManifestPath(runID int64) string {
	return filepath.Join(o.outputDir, fmt.Sprintf("run_%d.json", runID))
}

func (o *Orchestrator) saveManifest(run *Run) {
	if !o.writeManifest {
		return
	}
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		o.logger.Warn("Failed to create output directory", zap.Error(err))
		return
	}
	run.saveMu.Lock()
	defer run.saveMu.Unlock()
	if err := run.Manifest().Save(o.ManifestPath(run.id)); err != nil {
		o.logger.Warn("Failed to save manifest", zap.Int64("run_id", run.id), zap.Error(err))
	}
}

func (o *Orchestrator) publish(e events.Event) {
	o.bus.Publish(e)
}

func (o *Orchestrator) publishScene(run *Run, n int, state SceneState, message string) {
	o.bus.Publish(events.Event{
		RunID:   run.id,
		Scene:   n,
		Kind:    events.SceneChanged,
		State:   string(state),
		Message: message,
	})
}
