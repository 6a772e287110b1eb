package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhe.chen/explaind/internal/llm"
)

// Kind classifies a pipeline failure
type Kind string

const (
	KindBackendUnavailable   Kind = "BackendUnavailable"
	KindBackendTimeout       Kind = "BackendTimeout"
	KindMalformedResponse    Kind = "MalformedResponse"
	KindCodeGenerationFailed Kind = "CodeGenerationFailed"
	KindRenderFailure        Kind = "RenderFailure"
	KindMuxFailure           Kind = "MuxFailure"
	KindStitchFailure        Kind = "StitchFailure"
	KindInvalidInput         Kind = "InvalidInput"
	KindPipelineAborted      Kind = "PipelineAborted"
	KindUnknown              Kind = ""
)

// Stage names a pipeline step
type Stage string

const (
	StageInput      Stage = "input"
	StageStoryboard Stage = "storyboard"
	StageScript     Stage = "script"
	StageCode       Stage = "code_synthesis"
	StageNarration  Stage = "narration"
	StageRender     Stage = "render"
	StageMux        Stage = "mux"
	StageStitch     Stage = "stitch"
)

// Orchestrator errors that are not stage failures
var (
	ErrPipelineAborted = errors.New("pipeline aborted")
	ErrRunNotFound     = errors.New("run not found")
	ErrRunSuperseded   = errors.New("run superseded by a newer run")
	ErrSceneNotFound   = errors.New("scene not found")
	ErrSceneBusy       = errors.New("scene is already rendering")
	ErrAlreadyRendered = errors.New("scene already rendered")
	ErrNotRetryable    = errors.New("scene has not failed")
	ErrSourceImmutable = errors.New("scene source was generated and cannot be replaced")
)

// Error is a stage failure with the diagnostic text of the underlying
// backend or subprocess.
type Error struct {
	Kind   Kind
	Stage  Stage
	Scene  int // 0 when the failure is not scene specific
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage %s failed", e.Stage)
	if e.Scene > 0 {
		fmt.Fprintf(&b, " for scene %d", e.Scene)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AbortError is returned by StartRun when a generation stage produced nothing.
type AbortError struct {
	RunID int64
	Stage Stage
	Cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s: run %d: %v", ErrPipelineAborted, e.RunID, e.Cause)
}

func (e *AbortError) Unwrap() []error {
	return []error{ErrPipelineAborted, e.Cause}
}

// KindOf returns the failure kind carried by err
func KindOf(err error) Kind {
	var abort *AbortError
	if errors.As(err, &abort) {
		return KindPipelineAborted
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// StageOf returns the stage carried by err, or "" when there is none
func StageOf(err error) Stage {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort.Stage
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// backendError classifies a generation failure
func backendError(stage Stage, scene int, err error) *Error {
	kind := KindBackendUnavailable
	if errors.Is(err, llm.ErrTimeout) {
		kind = KindBackendTimeout
	}
	return &Error{Kind: kind, Stage: stage, Scene: scene, Err: err}
}

func malformed(stage Stage, scene int, detail string) *Error {
	return &Error{Kind: KindMalformedResponse, Stage: stage, Scene: scene, Detail: detail}
}
