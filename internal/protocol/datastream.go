// ABOUTME: Framed-line (data stream) event variants, one per wire tag.
// ABOUTME: Each variant renders as "<tag>:<json>" through FramedEncoder.

package protocol

import "encoding/json"

// Frame tags of the data stream version.
const (
	TagText          = "0"
	TagData          = "2"
	TagError         = "3"
	TagToolCall      = "9"
	TagToolResult    = "a"
	TagToolCallStart = "b"
	TagToolCallDelta = "c"
	TagFinish        = "d"
	TagFinishStep    = "e"
	TagStartStep     = "f"
	TagReasoning     = "g"
	TagSource        = "h"
)

// TextPart is a delta of assistant text.
type TextPart struct {
	Text string
}

// ReasoningPart is a delta of model reasoning.
type ReasoningPart struct {
	Text string
}

// SourcePart cites a URL used by a tool.
type SourcePart struct {
	Source Source
}

// ToolCallStartPart announces a tool call whose arguments will stream.
type ToolCallStartPart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// ToolCallDeltaPart carries a fragment of tool call arguments.
type ToolCallDeltaPart struct {
	ToolCallID    string `json:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

// ToolCallPart is a complete tool call.
type ToolCallPart struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

// ToolResultPart is the outcome of a tool call.
type ToolResultPart struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result"`
}

// StartStepPart marks a step and carries the response message id.
type StartStepPart struct {
	MessageID string `json:"messageId"`
}

// FinishStepPart ends one model step.
type FinishStepPart struct {
	FinishReason FinishReason `json:"finishReason"`
	Usage        Usage        `json:"usage"`
	IsContinued  bool         `json:"isContinued"`
}

// FinishMessagePart ends the whole response.
type FinishMessagePart struct {
	FinishReason FinishReason `json:"finishReason"`
	Usage        Usage        `json:"usage"`
}

// DataPart carries arbitrary JSON values, including heartbeats.
type DataPart struct {
	Values []any
}

// ErrorPart reports a fatal error to the client.
type ErrorPart struct {
	Message string
}

func (TextPart) Version() Version          { return VersionDataStream }
func (ReasoningPart) Version() Version     { return VersionDataStream }
func (SourcePart) Version() Version        { return VersionDataStream }
func (ToolCallStartPart) Version() Version { return VersionDataStream }
func (ToolCallDeltaPart) Version() Version { return VersionDataStream }
func (ToolCallPart) Version() Version      { return VersionDataStream }
func (ToolResultPart) Version() Version    { return VersionDataStream }
func (StartStepPart) Version() Version     { return VersionDataStream }
func (FinishStepPart) Version() Version    { return VersionDataStream }
func (FinishMessagePart) Version() Version { return VersionDataStream }
func (DataPart) Version() Version          { return VersionDataStream }
func (ErrorPart) Version() Version         { return VersionDataStream }

func (e TextPart) payload() (string, any)      { return TagText, e.Text }
func (e ReasoningPart) payload() (string, any) { return TagReasoning, e.Text }
func (e SourcePart) payload() (string, any) {
	return TagSource, sourceBody{SourceType: "url", ID: e.Source.ID, URL: e.Source.URL, Title: e.Source.Title}
}
func (e ToolCallStartPart) payload() (string, any) { return TagToolCallStart, e }
func (e ToolCallDeltaPart) payload() (string, any) { return TagToolCallDelta, e }
func (e ToolCallPart) payload() (string, any) {
	if len(e.Args) == 0 {
		e.Args = json.RawMessage(`{}`)
	}
	return TagToolCall, e
}
func (e ToolResultPart) payload() (string, any)    { return TagToolResult, e }
func (e StartStepPart) payload() (string, any)     { return TagStartStep, e }
func (e FinishStepPart) payload() (string, any)    { return TagFinishStep, e }
func (e FinishMessagePart) payload() (string, any) { return TagFinish, e }
func (e DataPart) payload() (string, any) {
	if e.Values == nil {
		return TagData, []any{}
	}
	return TagData, e.Values
}
func (e ErrorPart) payload() (string, any) { return TagError, e.Message }

type sourceBody struct {
	SourceType string `json:"sourceType"`
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}

var (
	_ Event = TextPart{}
	_ Event = ReasoningPart{}
	_ Event = SourcePart{}
	_ Event = ToolCallStartPart{}
	_ Event = ToolCallDeltaPart{}
	_ Event = ToolCallPart{}
	_ Event = ToolResultPart{}
	_ Event = StartStepPart{}
	_ Event = FinishStepPart{}
	_ Event = FinishMessagePart{}
	_ Event = DataPart{}
	_ Event = ErrorPart{}
)
