// ABOUTME: Normalizer for provider response shapes.
// ABOUTME: Maps content arrays, reasoning keys, tool arguments and finish reasons onto one form.

package llm

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// normalizeContent accepts a string, null, or an array of content parts.
func normalizeContent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" || p.Type == "output_text" {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return ""
}

// normalizeReasoning picks whichever reasoning key the provider used.
func normalizeReasoning(reasoningContent, reasoning json.RawMessage) string {
	if s := normalizeContent(reasoningContent); s != "" {
		return s
	}
	return normalizeContent(reasoning)
}

// normalizeArguments returns tool arguments as a JSON object. Providers send
// either a JSON-encoded string or an inline object.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return json.RawMessage("{}")
		}
		return argumentsFromString(s)
	}
	if json.Valid(raw) {
		return raw
	}
	return argumentsFromString(string(raw))
}

func argumentsFromString(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	wrapped, _ := json.Marshal(map[string]string{"input": s})
	return wrapped
}

// normalizeToolCallID fills in ids some providers omit.
func normalizeToolCallID(id string) string {
	if id != "" {
		return id
	}
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// normalizeFinishReason maps provider finish reasons onto the wire vocabulary.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "":
		return ""
	case "stop", "end_turn", "stop_sequence":
		return "stop"
	case "length", "max_tokens":
		return "length"
	case "tool_calls", "function_call", "tool_use":
		return "tool-calls"
	case "content_filter":
		return "content-filter"
	case "error":
		return "error"
	default:
		return "unknown"
	}
}
