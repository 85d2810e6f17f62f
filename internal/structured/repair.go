package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	errEmptyResponse = errors.New("empty response")
	errNotObject     = errors.New("response is not a JSON object")

	reObjectSpan = regexp.MustCompile(`(?s)\{.*\}`)
)

// Repair parses raw model output as a JSON object. When the direct parse fails it
// strips a markdown code fence and, failing that, salvages the outermost {...} span.
// repaired reports whether anything other than the direct parse was needed.
func Repair(raw string) (obj map[string]any, repaired bool, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false, errEmptyResponse
	}

	directErr := decodeObject(trimmed, &obj)
	if directErr == nil {
		return obj, false, nil
	}

	if fenced := stripCodeFence(trimmed); fenced != trimmed {
		if err := decodeObject(fenced, &obj); err == nil {
			return obj, true, nil
		}
		trimmed = fenced
	}

	span := reObjectSpan.FindString(trimmed)
	if span == "" {
		return nil, false, fmt.Errorf("%w (payload: %s)", directErr, snippet(raw))
	}
	if err := decodeObject(span, &obj); err != nil {
		return nil, false, fmt.Errorf("salvaged span: %w (payload: %s)", err, snippet(span))
	}
	return obj, true, nil
}

func decodeObject(s string, out *map[string]any) error {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return errNotObject
	}
	*out = m
	return nil
}

func stripCodeFence(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	body := strings.TrimLeft(content[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if r := []rune(clean); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return clean
}
