package engine

import (
	"encoding/json"
	"strings"
)

// Verdict is the validator's judgement of one execution.
type Verdict struct {
	Valid    bool   `json:"valid"`
	Feedback string `json:"feedback"`
}

// parseVerdict recovers a Verdict from the validator's reply. Strict JSON
// is tried first, tolerating a fenced reply. A reply that conforms to
// neither is malformed; the fallback deliberately fails open so a
// confused validator can never wedge the pipeline:
//   - text containing both "valid" and "false" tokens: invalid, raw text
//     as feedback
//   - empty text: valid, "No issues found"
//   - anything else: valid, raw text as feedback
func parseVerdict(text string) Verdict {
	trimmed := strings.TrimSpace(text)
	candidate := stripFence(trimmed)

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &raw); err == nil && raw != nil {
		v := Verdict{Valid: true}
		switch val := raw["valid"].(type) {
		case bool:
			v.Valid = val
		case string:
			v.Valid = !strings.EqualFold(strings.TrimSpace(val), "false")
		}
		if fb, ok := raw["feedback"].(string); ok {
			v.Feedback = strings.TrimSpace(fb)
		}
		return v
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "valid") && strings.Contains(lower, "false"):
		return Verdict{Valid: false, Feedback: trimmed}
	case trimmed == "":
		return Verdict{Valid: true, Feedback: "No issues found"}
	default:
		return Verdict{Valid: true, Feedback: trimmed}
	}
}

// stripFence unwraps a ```json ... ``` (or bare ``` ... ```) wrapper.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		lang := strings.TrimSpace(body[:nl])
		if lang == "" || strings.EqualFold(lang, "json") {
			body = body[nl+1:]
		}
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
