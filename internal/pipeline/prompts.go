package pipeline

import (
	"strings"
	"text/template"
)

var promptFuncs = template.FuncMap{
	"fence": func(lang string) string { return "```" + lang },
}

var storyboardPrompt = template.Must(template.New("storyboard").Funcs(promptFuncs).Parse(`
You are an expert educational content creator. Your task is to generate a {{.Frames}}-frame storyboard to explain a topic to a specific audience. Each frame must be a distinct, visualizable concept.

**Topic:** {{.Topic}}
**Audience:** {{.Audience}}

**Instructions:**
1.  Create exactly {{.Frames}} frames.
2.  Each frame needs a short, catchy ` + "`title`" + ` (max 5 words).
3.  Each frame needs a ` + "`description`" + ` of the visual animation (2-3 sentences).
4.  Do NOT include quizzes or introductions.
5.  Your entire output must be ONLY the JSON object, with no other text before or after it.

**Example Format:**
{{fence "json"}}
{
  "frames": [
    {"title": "First Concept", "description": "A visual of the first idea."},
    {"title": "Second Concept", "description": "An animation showing the transition."},
    {"title": "Third Concept", "description": "A final visual summarizing the topic."}
  ]
}
{{fence ""}}
`))

var scriptPrompt = template.Must(template.New("script").Funcs(promptFuncs).Parse(`
You are a scriptwriter for the YouTube channel 3Blue1Brown. Your task is to take a frame description and generate a narration script and a detailed animation description.

**Frame Description:** "{{.Description}}"

**Instructions:**
1.  Write a ` + "`narration`" + ` script. It must be engaging, clear, and strictly less than {{.MaxWords}} words.
2.  Write an ` + "`animation-description`" + ` that details the visuals, positions, and movements on screen.
3.  Your entire output must be ONLY the JSON object, with no other text before or after it.

**Example Format:**
{{fence "json"}}
{
  "narration": "Here we see two vectors, arrows pointing from the origin.",
  "animation-description": "A 2D coordinate plane appears. Two vectors, v1=[2,1] and v2=[-1,2], are drawn from the origin as yellow and blue arrows respectively. MathTex labels appear next to their tips."
}
{{fence ""}}
`))

var codePrompt = template.Must(template.New("code").Funcs(promptFuncs).Parse(`
You are an expert Manim programmer. Your task is to write a complete, simple, and runnable Manim Community Edition (v0.19.0) Python script based on the provided details.

**Scene Class Name:** {{.ClassName}}
**Animation Description:** "{{.Intent}}"

**CRITICAL INSTRUCTIONS:**
1.  The code MUST be for ManimCE v0.19.0.
2.  The code must be EXTREMELY SIMPLE.
3.  ABSOLUTELY NO LOOPS (` + "`for`, `while`" + `), list comprehensions, or custom functions.
4.  Use only simple, sequential ` + "`self.play()`" + ` calls.
5.  Use standard colors: ` + "`BLUE`, `RED`, `YELLOW`, `GREEN`, `WHITE`" + `.
6.  Ensure text and objects do not overlap. Use ` + "`.to_edge()`, `.next_to()`, and `.shift()`" + `.
7.  The scene class MUST be named {{.ClassName}}.
8.  Your entire output must be ONLY the Python code, with no other text, explanations, or markdown formatting like {{fence "python"}}.

**Example of valid code:**
{{fence "python"}}
from manim import *

class VectorIntro(Scene):
    def construct(self):
        axes = Axes(x_range=[-5, 5, 1], y_range=[-3, 3, 1])
        vector = Arrow(ORIGIN, [2, 1, 0], buff=0, color=YELLOW)
        self.play(Create(axes))
        self.play(GrowArrow(vector))
        self.wait(1)
{{fence ""}}
`))

func execute(t *template.Template, data any) string {
	var b strings.Builder
	// Templates are static and data is plain strings and ints
	if err := t.Execute(&b, data); err != nil {
		panic(err)
	}
	return b.String()
}

// StoryboardPrompt builds the storyboard request
func StoryboardPrompt(topic, audience string, frames int) string {
	return execute(storyboardPrompt, struct {
		Topic, Audience string
		Frames          int
	}{topic, audience, frames})
}

// ScriptPrompt builds the scene script request
func ScriptPrompt(description string, maxWords int) string {
	return execute(scriptPrompt, struct {
		Description string
		MaxWords    int
	}{description, maxWords})
}

// CodePrompt builds the animation source request
func CodePrompt(intent string, sceneNumber int) string {
	return execute(codePrompt, struct {
		ClassName, Intent string
	}{SceneIdentifier(sceneNumber), intent})
}
