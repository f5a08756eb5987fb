package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeModelJSON decodes a model response into v. Models wrap JSON in
// markdown fences or emit slightly broken JSON often enough that a strict
// json.Unmarshal alone loses real answers, so malformed payloads get one
// repair pass through the jsonrepair library before giving up.
func DecodeModelJSON(raw string, v any) error {
	candidate := extractJSON(raw)
	if candidate == "" {
		return fmt.Errorf("no JSON object in model response")
	}

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("model response is not repairable JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("model response invalid after repair: %w", err)
	}
	return nil
}

// extractJSON strips markdown code fences and trims the response down to
// the outermost JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end > start {
		return s[start : end+1]
	}
	// Truncated object, let the repair pass close it.
	return s[start:]
}
