package pipeline

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/media"
	"github.com/zhe.chen/explaind/internal/narration"
)

// Renderer turns animation source into a silent clip
type Renderer interface {
	Render(ctx context.Context, source, sceneID string) (*media.Clip, error)
}

// Muxer combines and concatenates media streams
type Muxer interface {
	Mux(ctx context.Context, video, audio, out string) error
	Concat(ctx context.Context, inputs []string, out string) error
}

// RenderRequest is one scene render
type RenderRequest struct {
	Scene      int
	SceneID    string
	Source     string
	Narration  string
	OutputPath string
}

// RenderResult describes a rendered scene artifact
type RenderResult struct {
	Path     string
	Narrated bool
}

// RenderStage runs narration, renderer and muxer for one scene
type RenderStage struct {
	renderer Renderer
	muxer    Muxer
	narrator narration.Synthesizer
	copyFile func(src, dst string) error
	logger   *zap.Logger
}

// NewRenderStage creates the render stage. A nil narrator renders silently.
func NewRenderStage(renderer Renderer, muxer Muxer, narrator narration.Synthesizer, logger *zap.Logger) *RenderStage {
	if narrator == nil {
		narrator = narration.None{}
	}
	return &RenderStage{
		renderer: renderer,
		muxer:    muxer,
		narrator: narrator,
		copyFile: media.CopyFile,
		logger:   logger.Named("render"),
	}
}

// Render produces the scene artifact at req.OutputPath. On failure nothing is
// left at OutputPath; temporary files are removed on every path.
func (r *RenderStage) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	if IsPlaceholder(req.Source) {
		return nil, &Error{
			Kind:   KindCodeGenerationFailed,
			Stage:  StageCode,
			Scene:  req.Scene,
			Detail: "scene has no generated source",
		}
	}

	audio := r.narrate(ctx, req)
	if audio != "" {
		defer os.Remove(audio)
	}

	clip, err := r.renderer.Render(ctx, req.Source, req.SceneID)
	if err != nil {
		return nil, &Error{Kind: KindRenderFailure, Stage: StageRender, Scene: req.Scene, Err: err}
	}
	defer func() {
		if err := clip.Cleanup(); err != nil {
			r.logger.Warn("Failed to remove render work dir", zap.Int("scene", req.Scene), zap.Error(err))
		}
	}()

	if audio == "" {
		if err := r.copyFile(clip.Path, req.OutputPath); err != nil {
			return nil, &Error{Kind: KindRenderFailure, Stage: StageRender, Scene: req.Scene, Err: err}
		}
		return &RenderResult{Path: req.OutputPath}, nil
	}

	if err := r.muxer.Mux(ctx, clip.Path, audio, req.OutputPath); err != nil {
		return nil, &Error{Kind: KindMuxFailure, Stage: StageMux, Scene: req.Scene, Err: err}
	}
	return &RenderResult{Path: req.OutputPath, Narrated: true}, nil
}

// narrate returns an audio path, or "" when the scene renders silently
func (r *RenderStage) narrate(ctx context.Context, req RenderRequest) string {
	audio, err := r.narrator.Synthesize(ctx, req.Narration)
	switch {
	case err == nil:
		return audio
	case errors.Is(err, narration.ErrEmptyText), errors.Is(err, narration.ErrDisabled):
		r.logger.Debug("Rendering without narration", zap.Int("scene", req.Scene), zap.Error(err))
	default:
		r.logger.Warn("Narration failed, rendering silently",
			zap.Int("scene", req.Scene),
			zap.String("narrator", r.narrator.Name()),
			zap.Error(err))
	}
	return ""
}

// StitchStage concatenates rendered scenes
type StitchStage struct {
	muxer  Muxer
	logger *zap.Logger
}

// NewStitchStage creates the stitch stage
func NewStitchStage(muxer Muxer, logger *zap.Logger) *StitchStage {
	return &StitchStage{muxer: muxer, logger: logger.Named("stitch")}
}

// Stitch joins paths, already ordered by scene number, into output
func (s *StitchStage) Stitch(ctx context.Context, paths []string, output string) error {
	if len(paths) == 0 {
		return &Error{Kind: KindStitchFailure, Stage: StageStitch, Detail: "no scene artifacts"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return &Error{Kind: KindStitchFailure, Stage: StageStitch, Detail: "scene artifact missing", Err: err}
		}
	}

	if err := s.muxer.Concat(ctx, paths, output); err != nil {
		return &Error{Kind: KindStitchFailure, Stage: StageStitch, Err: err}
	}
	s.logger.Info("Stitched final video", zap.String("path", output), zap.Int("scenes", len(paths)))
	return nil
}
