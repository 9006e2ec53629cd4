package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeBlock extracts a structured payload from free-form model output.
// Grammar, in order of preference: a fenced ```json block, the whole text,
// the widest brace-delimited substring. Absence or malformation of the block
// is an expected condition; callers substitute their documented fallback on
// error instead of propagating it.
func DecodeBlock[T any](raw string) (*T, error) {
	var out T
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err == nil {
		return &out, nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err == nil {
			return &out, nil
		}
	}
	return nil, fmt.Errorf("no decodable JSON block in model output")
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[idx+3:]
		trimmed = strings.TrimPrefix(trimmed, "json")
		trimmed = strings.TrimPrefix(trimmed, "JSON")
		if end := strings.Index(trimmed, "```"); end >= 0 {
			trimmed = trimmed[:end]
		}
	}
	return strings.TrimSpace(trimmed)
}
