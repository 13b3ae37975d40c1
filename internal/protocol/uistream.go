// ABOUTME: Server-sent (UI message stream) event variants.
// ABOUTME: Each variant renders as `data: {"type":...}` through SSEEncoder.

package protocol

import "encoding/json"

// MessageStart carries the response message id.
type MessageStart struct {
	MessageID string
}

// TextStart opens a text block.
type TextStart struct{ ID string }

// TextDelta appends to an open text block.
type TextDelta struct {
	ID    string
	Delta string
}

// TextEnd closes a text block.
type TextEnd struct{ ID string }

// ReasoningStart opens a reasoning block.
type ReasoningStart struct{ ID string }

// ReasoningDelta appends to an open reasoning block.
type ReasoningDelta struct {
	ID    string
	Delta string
}

// ReasoningEnd closes a reasoning block.
type ReasoningEnd struct{ ID string }

// ToolInputStart announces a tool call whose input will stream.
type ToolInputStart struct {
	ToolCallID string
	ToolName   string
}

// ToolInputDelta carries a fragment of tool input.
type ToolInputDelta struct {
	ToolCallID     string
	InputTextDelta string
}

// ToolInputAvailable is a complete tool call.
type ToolInputAvailable struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
}

// ToolOutputAvailable is the outcome of a tool call.
type ToolOutputAvailable struct {
	ToolCallID string
	Output     any
}

// SourceURL cites a URL used by a tool.
type SourceURL struct {
	Source Source
}

// StepStarted opens a model step.
type StepStarted struct{}

// StepFinished closes a model step.
type StepFinished struct{}

// Finish ends the whole response.
type Finish struct {
	FinishReason FinishReason
	Usage        Usage
}

// ErrorChunk reports a fatal error to the client.
type ErrorChunk struct {
	ErrorText string
}

// DataChunk is a custom "data-<name>" part. Transient parts are not kept by clients.
type DataChunk struct {
	Name      string
	Data      any
	Transient bool
}

func (MessageStart) Version() Version        { return VersionUIStream }
func (TextStart) Version() Version           { return VersionUIStream }
func (TextDelta) Version() Version           { return VersionUIStream }
func (TextEnd) Version() Version             { return VersionUIStream }
func (ReasoningStart) Version() Version      { return VersionUIStream }
func (ReasoningDelta) Version() Version      { return VersionUIStream }
func (ReasoningEnd) Version() Version        { return VersionUIStream }
func (ToolInputStart) Version() Version      { return VersionUIStream }
func (ToolInputDelta) Version() Version      { return VersionUIStream }
func (ToolInputAvailable) Version() Version  { return VersionUIStream }
func (ToolOutputAvailable) Version() Version { return VersionUIStream }
func (SourceURL) Version() Version           { return VersionUIStream }
func (StepStarted) Version() Version         { return VersionUIStream }
func (StepFinished) Version() Version        { return VersionUIStream }
func (Finish) Version() Version              { return VersionUIStream }
func (ErrorChunk) Version() Version          { return VersionUIStream }
func (DataChunk) Version() Version           { return VersionUIStream }

type idChunk struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type deltaChunk struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

func (e MessageStart) payload() (string, any) {
	return "start", struct {
		Type      string `json:"type"`
		MessageID string `json:"messageId"`
	}{"start", e.MessageID}
}

func (e TextStart) payload() (string, any) { return "text-start", idChunk{"text-start", e.ID} }
func (e TextDelta) payload() (string, any) {
	return "text-delta", deltaChunk{"text-delta", e.ID, e.Delta}
}
func (e TextEnd) payload() (string, any) { return "text-end", idChunk{"text-end", e.ID} }
func (e ReasoningStart) payload() (string, any) {
	return "reasoning-start", idChunk{"reasoning-start", e.ID}
}
func (e ReasoningDelta) payload() (string, any) {
	return "reasoning-delta", deltaChunk{"reasoning-delta", e.ID, e.Delta}
}
func (e ReasoningEnd) payload() (string, any) {
	return "reasoning-end", idChunk{"reasoning-end", e.ID}
}

func (e ToolInputStart) payload() (string, any) {
	return "tool-input-start", struct {
		Type       string `json:"type"`
		ToolCallID string `json:"toolCallId"`
		ToolName   string `json:"toolName"`
	}{"tool-input-start", e.ToolCallID, e.ToolName}
}

func (e ToolInputDelta) payload() (string, any) {
	return "tool-input-delta", struct {
		Type           string `json:"type"`
		ToolCallID     string `json:"toolCallId"`
		InputTextDelta string `json:"inputTextDelta"`
	}{"tool-input-delta", e.ToolCallID, e.InputTextDelta}
}

func (e ToolInputAvailable) payload() (string, any) {
	input := e.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return "tool-input-available", struct {
		Type       string          `json:"type"`
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Input      json.RawMessage `json:"input"`
	}{"tool-input-available", e.ToolCallID, e.ToolName, input}
}

func (e ToolOutputAvailable) payload() (string, any) {
	return "tool-output-available", struct {
		Type       string `json:"type"`
		ToolCallID string `json:"toolCallId"`
		Output     any    `json:"output"`
	}{"tool-output-available", e.ToolCallID, e.Output}
}

func (e SourceURL) payload() (string, any) {
	return "source-url", struct {
		Type     string `json:"type"`
		SourceID string `json:"sourceId"`
		URL      string `json:"url"`
		Title    string `json:"title,omitempty"`
	}{"source-url", e.Source.ID, e.Source.URL, e.Source.Title}
}

func (StepStarted) payload() (string, any) {
	return "start-step", struct {
		Type string `json:"type"`
	}{"start-step"}
}

func (StepFinished) payload() (string, any) {
	return "finish-step", struct {
		Type string `json:"type"`
	}{"finish-step"}
}

// Finish keeps reason and usage in message metadata so strict clients accept the chunk.
func (e Finish) payload() (string, any) {
	type metadata struct {
		FinishReason FinishReason `json:"finishReason"`
		Usage        Usage        `json:"usage"`
	}
	return "finish", struct {
		Type            string   `json:"type"`
		MessageMetadata metadata `json:"messageMetadata"`
	}{"finish", metadata{e.FinishReason, e.Usage}}
}

func (e ErrorChunk) payload() (string, any) {
	return "error", struct {
		Type      string `json:"type"`
		ErrorText string `json:"errorText"`
	}{"error", e.ErrorText}
}

func (e DataChunk) payload() (string, any) {
	typ := "data-" + e.Name
	return typ, struct {
		Type      string `json:"type"`
		Data      any    `json:"data"`
		Transient bool   `json:"transient,omitempty"`
	}{typ, e.Data, e.Transient}
}

var (
	_ Event = MessageStart{}
	_ Event = TextStart{}
	_ Event = TextDelta{}
	_ Event = TextEnd{}
	_ Event = ReasoningStart{}
	_ Event = ReasoningDelta{}
	_ Event = ReasoningEnd{}
	_ Event = ToolInputStart{}
	_ Event = ToolInputDelta{}
	_ Event = ToolInputAvailable{}
	_ Event = ToolOutputAvailable{}
	_ Event = SourceURL{}
	_ Event = StepStarted{}
	_ Event = StepFinished{}
	_ Event = Finish{}
	_ Event = ErrorChunk{}
	_ Event = DataChunk{}
)
