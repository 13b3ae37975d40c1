// ABOUTME: Client-facing (UI) message model with typed, discriminated parts.
// ABOUTME: Handles JSON decoding of the "type"-tagged part union.

package transcript

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the author of a UI message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// UIMessage is one message as the web client renders it.
type UIMessage struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	Parts       UIParts      `json:"parts"`
	Attachments []Attachment `json:"experimental_attachments,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
}

// Attachment is a file the client attached to a message.
type Attachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// Source is a citation kept on assistant messages.
type Source struct {
	SourceType string `json:"sourceType"`
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
}

// Tool invocation states.
const (
	StatePartialCall = "partial-call"
	StateCall        = "call"
	StateResult      = "result"
)

// ToolInvocation is a tool call as shown to the user, optionally with its result.
type ToolInvocation struct {
	State      string          `json:"state"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result,omitempty"`
	Step       int             `json:"step,omitempty"`
}

// UIPart is one element of a UI message. The set of parts is closed.
type UIPart interface {
	PartType() string
}

type TextUIPart struct {
	Text string `json:"text"`
}

type ReasoningUIPart struct {
	Reasoning string `json:"reasoning"`
}

type ToolInvocationUIPart struct {
	ToolInvocation ToolInvocation `json:"toolInvocation"`
}

type SourceUIPart struct {
	Source Source `json:"source"`
}

type FileUIPart struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
}

type StepStartUIPart struct{}

func (TextUIPart) PartType() string           { return "text" }
func (ReasoningUIPart) PartType() string      { return "reasoning" }
func (ToolInvocationUIPart) PartType() string { return "tool-invocation" }
func (SourceUIPart) PartType() string         { return "source" }
func (FileUIPart) PartType() string           { return "file" }
func (StepStartUIPart) PartType() string      { return "step-start" }

// UIParts is a list of parts that (de)serializes with a "type" discriminator.
type UIParts []UIPart

func (ps UIParts) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(ps))
	for _, p := range ps {
		b, err := marshalPart(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

func marshalPart(p UIPart) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s part: %w", p.PartType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	fields["type"], _ = json.Marshal(p.PartType())
	return json.Marshal(fields)
}

func (ps *UIParts) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parts := make(UIParts, 0, len(raw))
	for i, r := range raw {
		p, err := unmarshalPart(r)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		parts = append(parts, p)
	}
	*ps = parts
	return nil
}

func unmarshalPart(data []byte) (UIPart, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var (
		p   UIPart
		err error
	)
	switch head.Type {
	case "text":
		var v TextUIPart
		err = json.Unmarshal(data, &v)
		p = v
	case "reasoning":
		var v ReasoningUIPart
		err = json.Unmarshal(data, &v)
		p = v
	case "tool-invocation":
		var v ToolInvocationUIPart
		err = json.Unmarshal(data, &v)
		p = v
	case "source":
		var v SourceUIPart
		err = json.Unmarshal(data, &v)
		p = v
	case "file":
		var v FileUIPart
		err = json.Unmarshal(data, &v)
		p = v
	case "step-start":
		p = StepStartUIPart{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPart, head.Type)
	}
	return p, err
}

// CountUserTurns returns the number of user messages.
func CountUserTurns(msgs []UIMessage) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
