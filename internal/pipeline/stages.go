package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhe.chen/explaind/internal/llm"
)

// GenerationSettings are the per-request parameters of a generation stage
type GenerationSettings struct {
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func (g GenerationSettings) request(prompt string) llm.Request {
	return llm.Request{
		Prompt:      prompt,
		Model:       g.Model,
		Temperature: g.Temperature,
		Timeout:     g.Timeout,
	}
}

// Frame is a storyboard beat
type Frame struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SceneScript is the expansion of one frame
type SceneScript struct {
	Narration       string `json:"narration"`
	AnimationIntent string `json:"animation-description"`
}

// StoryboardStage asks the backend for an ordered list of frames
type StoryboardStage struct {
	gen      llm.Generator
	settings GenerationSettings
	frames   int
	logger   *zap.Logger
}

// NewStoryboardStage creates the storyboard stage
func NewStoryboardStage(gen llm.Generator, settings GenerationSettings, frames int, logger *zap.Logger) *StoryboardStage {
	return &StoryboardStage{gen: gen, settings: settings, frames: frames, logger: logger.Named("storyboard")}
}

// Build requests exactly s.frames frames. Frames without a description are
// dropped; a short storyboard is accepted.
func (s *StoryboardStage) Build(ctx context.Context, topic, audience string) ([]Frame, error) {
	text, err := llm.Call(ctx, s.gen, s.settings.request(StoryboardPrompt(topic, audience, s.frames)))
	if err != nil {
		return nil, backendError(StageStoryboard, 0, err)
	}

	var payload struct {
		Frames []Frame `json:"frames"`
	}
	if !llm.ExtractInto(text, &payload) {
		s.logger.Debug("Unparseable storyboard reply", zap.String("reply", text))
		return nil, malformed(StageStoryboard, 0, "no storyboard JSON object in reply")
	}

	frames := make([]Frame, 0, len(payload.Frames))
	for _, f := range payload.Frames {
		f.Title = strings.TrimSpace(f.Title)
		f.Description = strings.TrimSpace(f.Description)
		if f.Description == "" {
			continue
		}
		frames = append(frames, f)
	}

	if len(frames) == 0 {
		return nil, malformed(StageStoryboard, 0, "storyboard has no usable frames")
	}
	if len(frames) < s.frames {
		s.logger.Warn("Storyboard shorter than requested",
			zap.Int("requested", s.frames),
			zap.Int("received", len(frames)))
	}
	return frames, nil
}

// ScriptStage expands a frame into narration and animation intent
type ScriptStage struct {
	gen      llm.Generator
	settings GenerationSettings
	maxWords int
	logger   *zap.Logger
}

// NewScriptStage creates the scene script stage
func NewScriptStage(gen llm.Generator, settings GenerationSettings, maxWords int, logger *zap.Logger) *ScriptStage {
	return &ScriptStage{gen: gen, settings: settings, maxWords: maxWords, logger: logger.Named("script")}
}

// Expand generates the script for one frame. Narration over the word limit
// is truncated. Empty narration is allowed; an empty intent is not.
func (s *ScriptStage) Expand(ctx context.Context, scene int, description string) (SceneScript, error) {
	text, err := llm.Call(ctx, s.gen, s.settings.request(ScriptPrompt(description, s.maxWords)))
	if err != nil {
		return SceneScript{}, backendError(StageScript, scene, err)
	}

	var script SceneScript
	if !llm.ExtractInto(text, &script) {
		s.logger.Debug("Unparseable script reply", zap.Int("scene", scene), zap.String("reply", text))
		return SceneScript{}, malformed(StageScript, scene, "no scene script JSON object in reply")
	}

	script.AnimationIntent = strings.TrimSpace(script.AnimationIntent)
	if script.AnimationIntent == "" {
		return SceneScript{}, malformed(StageScript, scene, "scene script has no animation-description")
	}

	narration, truncated := TruncateWords(script.Narration, s.maxWords)
	if truncated {
		s.logger.Warn("Narration over word limit, truncated",
			zap.Int("scene", scene),
			zap.Int("limit", s.maxWords),
			zap.Int("words", len(strings.Fields(script.Narration))))
	}
	script.Narration = narration
	return script, nil
}

// TruncateWords keeps at most limit whitespace-separated words of text
func TruncateWords(text string, limit int) (string, bool) {
	words := strings.Fields(text)
	if limit <= 0 || len(words) <= limit {
		return strings.Join(words, " "), false
	}
	return strings.Join(words[:limit], " "), true
}

// CodeStage generates renderable animation source
type CodeStage struct {
	gen      llm.Generator
	settings GenerationSettings
	logger   *zap.Logger
}

// NewCodeStage creates the code synthesis stage
func NewCodeStage(gen llm.Generator, settings GenerationSettings, logger *zap.Logger) *CodeStage {
	return &CodeStage{gen: gen, settings: settings, logger: logger.Named("code")}
}

// Synthesize returns source for the scene, or GenerationFailedPlaceholder
// when nothing usable came back.
func (s *CodeStage) Synthesize(ctx context.Context, intent string, scene int) string {
	code, err := s.generate(ctx, intent, scene)
	if err != nil {
		s.logger.Warn("Code generation failed", zap.Int("scene", scene), zap.Error(err))
		return GenerationFailedPlaceholder
	}
	return code
}

var errEmptySource = errors.New("reply contained no source")

func (s *CodeStage) generate(ctx context.Context, intent string, scene int) (string, error) {
	text, err := llm.Call(ctx, s.gen, s.settings.request(CodePrompt(intent, scene)))
	if err != nil {
		return "", backendError(StageCode, scene, err)
	}

	code := StripFences(text)
	if IsPlaceholder(code) {
		return "", &Error{Kind: KindCodeGenerationFailed, Stage: StageCode, Scene: scene, Err: errEmptySource}
	}
	if !strings.Contains(code, "class "+SceneIdentifier(scene)) {
		s.logger.Warn("Generated source does not define the scene class",
			zap.Int("scene", scene),
			zap.String("class", SceneIdentifier(scene)))
	}
	return code, nil
}
