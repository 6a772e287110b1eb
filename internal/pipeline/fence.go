package pipeline

import (
	"strings"
	"unicode"
)

// GenerationFailedPlaceholder is the source stored for a scene whose code
// could not be generated. It is never rendered.
const GenerationFailedPlaceholder = "# Failed to generate code."

// closingFence ends a fenced block
const closingFence = "```"

// FenceMarker is an opening code fence. Markers are tried in order and the
// first one present in the text wins, so longer markers go first.
type FenceMarker struct {
	Open string
	// SkipInfo drops an info string (language tag) following Open on the same line
	SkipInfo bool
}

// FenceMarkers is the ordered list StripFences applies
var FenceMarkers = []FenceMarker{
	{Open: "```python", SkipInfo: true},
	{Open: "```py", SkipInfo: true},
	{Open: "```", SkipInfo: true},
}

// StripFences removes markdown code fences around generated source. Text
// after the first opening marker is kept, then cut at the next closing fence.
// Text without fences is returned trimmed.
func StripFences(text string) string {
	return stripFences(text, FenceMarkers)
}

func stripFences(text string, markers []FenceMarker) string {
	for _, m := range markers {
		i := strings.Index(text, m.Open)
		if i < 0 {
			continue
		}
		text = text[i+len(m.Open):]
		if m.SkipInfo {
			text = skipInfoString(text)
		}
		break
	}

	if i := strings.Index(text, closingFence); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// skipInfoString drops a single-word info string on the fence line
func skipInfoString(text string) string {
	line, rest, found := strings.Cut(text, "\n")
	if !found {
		return text
	}
	info := strings.TrimSpace(line)
	if info == "" || strings.IndexFunc(info, unicode.IsSpace) < 0 {
		return rest
	}
	return text
}

// IsPlaceholder reports whether source is the generation-failed sentinel
func IsPlaceholder(source string) bool {
	trimmed := strings.TrimSpace(source)
	return trimmed == "" || trimmed == GenerationFailedPlaceholder
}
