// ABOUTME: Tests for the framed, server-sent and text-only encoders.
// ABOUTME: Covers round trips, foreign-version filtering and wire formats.

package protocol

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramedEncoder_RoundTrip(t *testing.T) {
	events := []Event{
		TextPart{Text: "Hello \"world\"\n"},
		ReasoningPart{Text: "thinking"},
		SourcePart{Source: Source{ID: "s1", URL: "https://example.com", Title: "Example"}},
		ToolCallStartPart{ToolCallID: "call_1", ToolName: "web_search"},
		ToolCallDeltaPart{ToolCallID: "call_1", ArgsTextDelta: `{"q":`},
		ToolCallPart{ToolCallID: "call_1", ToolName: "web_search", Args: json.RawMessage(`{"query":"go"}`)},
		ToolResultPart{ToolCallID: "call_1", Result: map[string]any{"status": "success"}},
		StartStepPart{MessageID: "msg-1"},
		FinishStepPart{FinishReason: FinishToolCalls, Usage: Usage{PromptTokens: 3, CompletionTokens: 4}, IsContinued: true},
		FinishMessagePart{FinishReason: FinishStop, Usage: Usage{PromptTokens: 5, CompletionTokens: 6}},
		DataPart{Values: []any{map[string]any{"type": "heartbeat"}}},
		ErrorPart{Message: "boom"},
	}

	enc := FramedEncoder{}
	for _, ev := range events {
		line, err := enc.Encode(ev)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(line, "\n"), "frame must end with newline: %q", line)

		wantTag, wantBody := ev.payload()
		wantJSON, err := json.Marshal(wantBody)
		require.NoError(t, err)

		tag, body, err := DecodeFrame(line)
		require.NoError(t, err)
		assert.Equal(t, wantTag, tag)
		assert.JSONEq(t, string(wantJSON), string(body))
	}
}

func TestFramedEncoder_TextFrame(t *testing.T) {
	line, err := FramedEncoder{}.Encode(TextPart{Text: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "0:\"Hello\"\n", line)
}

func TestFramedEncoder_FinishFrame(t *testing.T) {
	line, err := FramedEncoder{}.Encode(FinishMessagePart{FinishReason: FinishStop, Usage: Usage{PromptTokens: 1, CompletionTokens: 2}})
	require.NoError(t, err)
	assert.Equal(t, `d:{"finishReason":"stop","usage":{"promptTokens":1,"completionTokens":2}}`+"\n", line)
}

func TestEncoders_DropForeignVersion(t *testing.T) {
	line, err := FramedEncoder{}.Encode(TextDelta{ID: "text-1", Delta: "hi"})
	require.NoError(t, err)
	assert.Empty(t, line)

	line, err = SSEEncoder{}.Encode(TextPart{Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, line)

	line, err = FramedEncoder{}.Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, line)
}

func TestSSEEncoder_Format(t *testing.T) {
	line, err := SSEEncoder{}.Encode(TextDelta{ID: "text-1", Delta: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, `data: {"type":"text-delta","id":"text-1","delta":"Hi"}`+"\n\n", line)

	line, err = SSEEncoder{}.Encode(DataChunk{Name: "heartbeat", Data: map[string]string{}, Transient: true})
	require.NoError(t, err)
	assert.Equal(t, `data: {"type":"data-heartbeat","data":{},"transient":true}`+"\n\n", line)

	assert.Equal(t, "data: [DONE]\n\n", SSEEncoder{}.Terminator())
}

func TestTextEncoder_OnlyText(t *testing.T) {
	enc := TextEncoder{}

	out, err := enc.Encode(TextPart{Text: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", out)

	out, err = enc.Encode(TextDelta{ID: "t", Delta: "def"})
	require.NoError(t, err)
	assert.Equal(t, "def", out)

	for _, ev := range []Event{
		ReasoningPart{Text: "hmm"},
		ToolCallPart{ToolCallID: "1", ToolName: "x"},
		FinishMessagePart{FinishReason: FinishStop},
		ErrorPart{Message: "nope"},
	} {
		out, err := enc.Encode(ev)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func TestEncoder_Headers(t *testing.T) {
	h := http.Header{}
	NewEncoder(ModeUIStream).SetHeaders(h)
	assert.Equal(t, "text/event-stream", h.Get("Content-Type"))

	h = http.Header{}
	NewEncoder(ModeDataStream).SetHeaders(h)
	assert.Equal(t, "v1", h.Get("X-Vercel-AI-Data-Stream"))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDataStream, m)

	m, err = ParseMode("sse")
	require.NoError(t, err)
	assert.Equal(t, VersionUIStream, m.Version())

	m, err = ParseMode("text")
	require.NoError(t, err)
	assert.Equal(t, VersionDataStream, m.Version())

	_, err = ParseMode("v9")
	assert.Error(t, err)
}
