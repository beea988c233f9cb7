package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseJSON parses an LLM response into T, tolerating markdown fences and
// surrounding prose. LLM output is never trusted to be clean JSON.
func ParseJSON[T any](raw string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(raw), &result); err == nil {
		return result, nil
	}

	cleaned := stripMarkdownJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return result, nil
	}

	var zero T
	return zero, fmt.Errorf("response is not valid JSON: %s", truncate(raw, 200))
}

// fencePattern matches ```json ... ``` blocks.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// stripMarkdownJSON removes markdown code fences and leading/trailing
// non-JSON text.
func stripMarkdownJSON(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = strings.TrimSpace(matches[1])
	}

	// Find first { or [ and its matching last } or ]
	startObj := strings.IndexByte(s, '{')
	startArr := strings.IndexByte(s, '[')

	start := -1
	isArray := false

	switch {
	case startObj >= 0 && startArr >= 0:
		if startArr < startObj {
			start = startArr
			isArray = true
		} else {
			start = startObj
		}
	case startObj >= 0:
		start = startObj
	case startArr >= 0:
		start = startArr
		isArray = true
	}

	if start < 0 {
		return s
	}

	var end int
	if isArray {
		end = strings.LastIndexByte(s, ']')
	} else {
		end = strings.LastIndexByte(s, '}')
	}

	if end <= start {
		return s
	}

	return s[start : end+1]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
