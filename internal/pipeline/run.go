package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus is the coarse lifecycle of a run
type RunStatus string

const (
	RunScripting RunStatus = "scripting"
	RunReady     RunStatus = "ready"
	RunAborted   RunStatus = "aborted"
	RunFinalized RunStatus = "finalized"
)

// SceneState is the render state of a scene
type SceneState string

const (
	SceneScripted     SceneState = "scripted"
	SceneRendering    SceneState = "rendering"
	SceneRendered     SceneState = "rendered"
	SceneRenderFailed SceneState = "render_failed"
)

// Run is one generation session. All fields are guarded by mu; drivers read
// it through Manifest.
type Run struct {
	mu sync.RWMutex

	id        int64
	topic     string
	audience  string
	outputDir string
	status    RunStatus
	createdAt time.Time
	updatedAt time.Time

	currentStage Stage
	stages       map[Stage]*StageState
	scenes       []*Scene
	finalPath    string
	lastError    string

	// finalizeMu serializes stitching of this run
	finalizeMu sync.Mutex
	// saveMu orders snapshot and write of the report
	saveMu sync.Mutex
}

// Scene is one storyboard frame's lifecycle unit. Fields are guarded by the
// owning run's mu; renderMu is held for the whole render chain.
type Scene struct {
	renderMu sync.Mutex

	number          int
	title           string
	description     string
	narration       string
	animationIntent string
	sourceCode      string

	state         SceneState
	artifactPath  string
	narrated      bool
	attempts      int
	lastError     string
	lastErrorKind Kind
	startedAt     *time.Time
	completedAt   *time.Time
}

func newRun(id int64, topic, audience, outputDir string) *Run {
	now := time.Now()
	return &Run{
		id:        id,
		topic:     topic,
		audience:  audience,
		outputDir: outputDir,
		status:    RunScripting,
		createdAt: now,
		updatedAt: now,
		stages:    make(map[Stage]*StageState),
	}
}

// ID returns the run identifier
func (r *Run) ID() int64 {
	return r.id
}

// SceneIdentifier is the class name a scene's source must define
func SceneIdentifier(n int) string {
	return fmt.Sprintf("Scene%d", n)
}

// Manifest returns a snapshot of the run
func (r *Run) Manifest() *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := &Manifest{
		RunID:             r.id,
		Topic:             r.topic,
		Audience:          r.audience,
		Status:            r.status,
		CreatedAt:         r.createdAt,
		UpdatedAt:         r.updatedAt,
		CurrentStage:      r.currentStage,
		Stages:            make(map[Stage]*StageState, len(r.stages)),
		Scenes:            make([]SceneRecord, 0, len(r.scenes)),
		FinalArtifactPath: r.finalPath,
		LastError:         r.lastError,
	}
	for stage, state := range r.stages {
		copied := *state
		m.Stages[stage] = &copied
	}
	for _, s := range r.scenes {
		m.Scenes = append(m.Scenes, s.recordLocked())
	}
	return m
}

// SceneRecord returns a snapshot of scene n
func (r *Run) SceneRecord(n int) (SceneRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, err := r.sceneLocked(n)
	if err != nil {
		return SceneRecord{}, err
	}
	return s.recordLocked(), nil
}

func (r *Run) scene(n int) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sceneLocked(n)
}

func (r *Run) sceneLocked(n int) (*Scene, error) {
	if n < 1 || n > len(r.scenes) {
		return nil, fmt.Errorf("%w: run %d has no scene %d", ErrSceneNotFound, r.id, n)
	}
	return r.scenes[n-1], nil
}

func (s *Scene) recordLocked() SceneRecord {
	return SceneRecord{
		Number:          s.number,
		Identifier:      SceneIdentifier(s.number),
		Title:           s.title,
		Description:     s.description,
		Narration:       s.narration,
		AnimationIntent: s.animationIntent,
		SourceCode:      s.sourceCode,
		State:           s.state,
		ArtifactPath:    s.artifactPath,
		Narrated:        s.narrated,
		Attempts:        s.attempts,
		LastError:       s.lastError,
		LastErrorKind:   s.lastErrorKind,
		StartedAt:       s.startedAt,
		CompletedAt:     s.completedAt,
	}
}

// stageState returns the state for a stage, creating if needed
func (r *Run) stageState(stage Stage) *StageState {
	if r.stages[stage] == nil {
		r.stages[stage] = &StageState{Status: StatusPending}
	}
	return r.stages[stage]
}

// StartStage marks a run-level stage as running
func (r *Run) StartStage(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.stageState(stage)
	now := time.Now()
	state.Status = StatusRunning
	state.StartedAt = &now
	state.CompletedAt = nil
	state.Error = ""
	r.currentStage = stage
	r.updatedAt = now
}

// CompleteStage marks a run-level stage as completed
func (r *Run) CompleteStage(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.stageState(stage)
	now := time.Now()
	state.Status = StatusCompleted
	state.CompletedAt = &now
	r.updatedAt = now
}

// FailStage marks a run-level stage as failed with error message
func (r *Run) FailStage(stage Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.stageState(stage)
	state.Status = StatusFailed
	state.Error = err.Error()
	state.RetryCount++
	r.lastError = err.Error()
	r.updatedAt = time.Now()
}

// attachScenes installs the fully scripted scenes in one step
func (r *Run) attachScenes(scenes []*Scene) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes = scenes
	r.status = RunReady
	r.updatedAt = time.Now()
}

func (r *Run) setStatus(status RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.updatedAt = time.Now()
}

// beginRender moves a scene into Rendering. The caller holds s.renderMu.
func (r *Run) beginRender(s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch s.state {
	case SceneRendered:
		return fmt.Errorf("%w: scene %d", ErrAlreadyRendered, s.number)
	case SceneScripted, SceneRenderFailed:
	default:
		return fmt.Errorf("%w: scene %d", ErrSceneBusy, s.number)
	}

	now := time.Now()
	s.state = SceneRendering
	s.attempts++
	s.startedAt = &now
	s.completedAt = nil
	r.updatedAt = now
	return nil
}

// finishRender records the outcome of a render attempt
func (r *Run) finishRender(s *Scene, result *RenderResult, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	s.completedAt = &now
	r.updatedAt = now

	if err != nil {
		s.state = SceneRenderFailed
		s.artifactPath = ""
		s.narrated = false
		s.lastError = err.Error()
		s.lastErrorKind = KindOf(err)
		return
	}

	s.state = SceneRendered
	s.artifactPath = result.Path
	s.narrated = result.Narrated
	s.lastError = ""
	s.lastErrorKind = KindUnknown
}

// resetScene returns a failed scene to Scripted
func (r *Run) resetScene(s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.state != SceneRenderFailed {
		return fmt.Errorf("%w: scene %d is %s", ErrNotRetryable, s.number, s.state)
	}
	s.state = SceneScripted
	r.updatedAt = time.Now()
	return nil
}

// replaceSource installs regenerated code for a placeholder scene
func (r *Run) replaceSource(s *Scene, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !IsPlaceholder(s.sourceCode) {
		return fmt.Errorf("%w: scene %d", ErrSourceImmutable, s.number)
	}
	if s.state == SceneRendered {
		return fmt.Errorf("%w: scene %d", ErrAlreadyRendered, s.number)
	}
	s.sourceCode = source
	s.state = SceneScripted
	s.lastError = ""
	s.lastErrorKind = KindUnknown
	r.updatedAt = time.Now()
	return nil
}

// renderInputs reads what the render chain needs
func (r *Run) renderInputs(s *Scene) (source, narration string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.sourceCode, s.narration
}

func (r *Run) sceneState(s *Scene) SceneState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return s.state
}

// renderedPaths returns artifact paths in scene order, or an error naming
// the first scene that is not Rendered.
func (r *Run) renderedPaths() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.scenes) == 0 {
		return nil, fmt.Errorf("run %d has no scenes", r.id)
	}
	paths := make([]string, 0, len(r.scenes))
	for _, s := range r.scenes {
		if s.state != SceneRendered {
			return nil, fmt.Errorf("scene %d is %s", s.number, s.state)
		}
		paths = append(paths, s.artifactPath)
	}
	return paths, nil
}

func (r *Run) setFinal(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalPath = path
	r.status = RunFinalized
	r.updatedAt = time.Now()
}

// sceneNumbers lists scene numbers in order
func (r *Run) sceneNumbers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	numbers := make([]int, len(r.scenes))
	for i, s := range r.scenes {
		numbers[i] = s.number
	}
	return numbers
}
