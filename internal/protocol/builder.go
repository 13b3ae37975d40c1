// ABOUTME: Per-run builders mapping semantic fragments onto version-specific events.
// ABOUTME: The UI stream builder tracks open text and reasoning blocks and step framing.

package protocol

import (
	"encoding/json"
	"strconv"
)

// Builder produces the events for one run in one version.
// A Builder is not safe for concurrent use.
type Builder interface {
	Text(delta string) []Event
	Reasoning(delta string) []Event
	ToolCallStart(id, name string) []Event
	ToolCallDelta(id, delta string) []Event
	ToolCall(id, name string, args json.RawMessage) []Event
	ToolResult(id string, result any) []Event
	Source(src Source) []Event
	// StepStart marks the end of generation and carries the response message id.
	StepStart(messageID string) []Event
	StepFinish(reason FinishReason, usage Usage, continued bool) []Event
	Finish(reason FinishReason, usage Usage) []Event
	Error(message string) []Event
	Heartbeat() Event
}

// NewBuilder returns a builder for the given version.
func NewBuilder(v Version) Builder {
	if v == VersionUIStream {
		return &uiBuilder{}
	}
	return dataBuilder{}
}

type dataBuilder struct{}

func (dataBuilder) Text(delta string) []Event      { return []Event{TextPart{Text: delta}} }
func (dataBuilder) Reasoning(delta string) []Event { return []Event{ReasoningPart{Text: delta}} }
func (dataBuilder) ToolCallStart(id, name string) []Event {
	return []Event{ToolCallStartPart{ToolCallID: id, ToolName: name}}
}
func (dataBuilder) ToolCallDelta(id, delta string) []Event {
	return []Event{ToolCallDeltaPart{ToolCallID: id, ArgsTextDelta: delta}}
}
func (dataBuilder) ToolCall(id, name string, args json.RawMessage) []Event {
	return []Event{ToolCallPart{ToolCallID: id, ToolName: name, Args: args}}
}
func (dataBuilder) ToolResult(id string, result any) []Event {
	return []Event{ToolResultPart{ToolCallID: id, Result: result}}
}
func (dataBuilder) Source(src Source) []Event { return []Event{SourcePart{Source: src}} }
func (dataBuilder) StepStart(messageID string) []Event {
	return []Event{StartStepPart{MessageID: messageID}}
}
func (dataBuilder) StepFinish(reason FinishReason, usage Usage, continued bool) []Event {
	return []Event{FinishStepPart{FinishReason: reason, Usage: usage, IsContinued: continued}}
}
func (dataBuilder) Finish(reason FinishReason, usage Usage) []Event {
	return []Event{FinishMessagePart{FinishReason: reason, Usage: usage}}
}
func (dataBuilder) Error(message string) []Event { return []Event{ErrorPart{Message: message}} }
func (dataBuilder) Heartbeat() Event {
	return DataPart{Values: []any{map[string]string{"type": "heartbeat"}}}
}

// uiBuilder wraps deltas in start/end blocks and opens a step lazily before
// the first fragment of each model step.
type uiBuilder struct {
	seq      int
	stepOpen bool
	textID   string
	reasonID string
}

func (b *uiBuilder) nextID(prefix string) string {
	b.seq++
	return prefix + "-" + strconv.Itoa(b.seq)
}

func (b *uiBuilder) openStep(out []Event) []Event {
	if !b.stepOpen {
		b.stepOpen = true
		out = append(out, StepStarted{})
	}
	return out
}

func (b *uiBuilder) closeBlocks(out []Event) []Event {
	if b.textID != "" {
		out = append(out, TextEnd{ID: b.textID})
		b.textID = ""
	}
	if b.reasonID != "" {
		out = append(out, ReasoningEnd{ID: b.reasonID})
		b.reasonID = ""
	}
	return out
}

func (b *uiBuilder) Text(delta string) []Event {
	out := b.openStep(nil)
	if b.reasonID != "" {
		out = append(out, ReasoningEnd{ID: b.reasonID})
		b.reasonID = ""
	}
	if b.textID == "" {
		b.textID = b.nextID("text")
		out = append(out, TextStart{ID: b.textID})
	}
	return append(out, TextDelta{ID: b.textID, Delta: delta})
}

func (b *uiBuilder) Reasoning(delta string) []Event {
	out := b.openStep(nil)
	if b.textID != "" {
		out = append(out, TextEnd{ID: b.textID})
		b.textID = ""
	}
	if b.reasonID == "" {
		b.reasonID = b.nextID("reasoning")
		out = append(out, ReasoningStart{ID: b.reasonID})
	}
	return append(out, ReasoningDelta{ID: b.reasonID, Delta: delta})
}

func (b *uiBuilder) ToolCallStart(id, name string) []Event {
	out := b.closeBlocks(b.openStep(nil))
	return append(out, ToolInputStart{ToolCallID: id, ToolName: name})
}

func (b *uiBuilder) ToolCallDelta(id, delta string) []Event {
	return []Event{ToolInputDelta{ToolCallID: id, InputTextDelta: delta}}
}

func (b *uiBuilder) ToolCall(id, name string, args json.RawMessage) []Event {
	out := b.closeBlocks(b.openStep(nil))
	return append(out, ToolInputAvailable{ToolCallID: id, ToolName: name, Input: args})
}

func (b *uiBuilder) ToolResult(id string, result any) []Event {
	out := b.closeBlocks(b.openStep(nil))
	return append(out, ToolOutputAvailable{ToolCallID: id, Output: result})
}

func (b *uiBuilder) Source(src Source) []Event {
	return []Event{SourceURL{Source: src}}
}

func (b *uiBuilder) StepStart(messageID string) []Event {
	return []Event{MessageStart{MessageID: messageID}}
}

func (b *uiBuilder) StepFinish(FinishReason, Usage, bool) []Event {
	out := b.closeBlocks(nil)
	if b.stepOpen {
		b.stepOpen = false
		out = append(out, StepFinished{})
	}
	return out
}

func (b *uiBuilder) Finish(reason FinishReason, usage Usage) []Event {
	out := b.StepFinish(reason, usage, false)
	return append(out, Finish{FinishReason: reason, Usage: usage})
}

func (b *uiBuilder) Error(message string) []Event {
	out := b.closeBlocks(nil)
	return append(out, ErrorChunk{ErrorText: message})
}

func (b *uiBuilder) Heartbeat() Event {
	return DataChunk{Name: "heartbeat", Data: map[string]string{}, Transient: true}
}
