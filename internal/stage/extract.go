package stage

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")

	quoteReplacer = strings.NewReplacer(
		"“", `"`,
		"”", `"`,
		"„", `"`,
		"‟", `"`,
		"‘", `'`,
		"’", `'`,
		"＂", `"`,
	)
)

// ExtractJSON finds the JSON object in model output. It accepts a bare
// object, one wrapped in a markdown code block, or one surrounded by prose,
// and normalizes typographic quotes that models sometimes emit.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("empty output")
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return []byte(s), nil
	}

	// Prefer the last code block holding a valid object: models often show an
	// example before the real answer.
	blocks := codeBlockPattern.FindAllStringSubmatch(s, -1)
	for i := len(blocks) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(blocks[i][1])
		if obj, ok := validObject(candidate); ok {
			return obj, nil
		}
	}

	if obj, ok := validObject(s); ok {
		return obj, nil
	}
	return nil, fmt.Errorf("no JSON object found in output")
}

func validObject(s string) ([]byte, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	candidate := s[start : end+1]
	if json.Valid([]byte(candidate)) {
		return []byte(candidate), true
	}
	fixed := quoteReplacer.Replace(candidate)
	if json.Valid([]byte(fixed)) {
		return []byte(fixed), true
	}
	return nil, false
}
