package llm

import (
	"bytes"
	"encoding/json"
)

// Region returns the first balanced top-level {...} region of text. Braces
// inside JSON string literals do not count toward the balance.
func Region(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if start < 0 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// Extract decodes the first balanced brace region of a model reply. It
// returns false when there is no region or the region is not a JSON object.
func Extract(text string) (map[string]any, bool) {
	region, ok := Region(text)
	if !ok {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(region)))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}

// ExtractInto decodes the first balanced brace region into v with the same
// policy as Extract.
func ExtractInto(text string, v any) bool {
	region, ok := Region(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(region), v) == nil
}
