// ABOUTME: Structured (agent-internal) message model used to re-invoke the model.
// ABOUTME: Requests carry prompts and tool returns, responses carry text and tool calls.

package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageKind discriminates requests from responses.
type MessageKind string

const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
)

// ModelMessage is either a *ModelRequest or a *ModelResponse.
type ModelMessage interface {
	Kind() MessageKind
}

// ModelRequest is what the agent sends to the model.
type ModelRequest struct {
	Parts []RequestPart
}

// ModelResponse is what the model returned for one request.
type ModelResponse struct {
	Parts        []ResponsePart
	ModelName    string
	Usage        Usage
	FinishReason string
	Timestamp    time.Time
}

func (*ModelRequest) Kind() MessageKind  { return KindRequest }
func (*ModelResponse) Kind() MessageKind { return KindResponse }

// Usage is token accounting for a model response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Requests     int `json:"requests"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Requests:     u.Requests + o.Requests,
	}
}

// RequestPart is a part of a ModelRequest.
type RequestPart interface {
	requestPart() string
}

// ResponsePart is a part of a ModelResponse.
type ResponsePart interface {
	responsePart() string
}

type SystemPromptPart struct {
	Content string
}

type UserPromptPart struct {
	Content   []ContentItem
	Timestamp time.Time
}

type ToolReturnPart struct {
	ToolName   string
	ToolCallID string
	Content    json.RawMessage
}

type TextPart struct {
	Content string
}

type ToolCallPart struct {
	ToolName   string
	ToolCallID string
	Args       json.RawMessage
}

type ThinkingPart struct {
	Content string
}

func (SystemPromptPart) requestPart() string { return "system-prompt" }
func (UserPromptPart) requestPart() string   { return "user-prompt" }
func (ToolReturnPart) requestPart() string   { return "tool-return" }
func (TextPart) responsePart() string        { return "text" }
func (ToolCallPart) responsePart() string    { return "tool-call" }
func (ThinkingPart) responsePart() string    { return "thinking" }

// Text returns the concatenated text parts of the prompt.
func (p UserPromptPart) Text() string {
	var sb strings.Builder
	for _, c := range p.Content {
		if c.Kind == ContentText {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call parts of the response in order.
func (r *ModelResponse) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range r.Parts {
		if c, ok := p.(ToolCallPart); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// Text returns the concatenated text parts of the response.
func (r *ModelResponse) Text() string {
	var sb strings.Builder
	for _, p := range r.Parts {
		if t, ok := p.(TextPart); ok {
			sb.WriteString(t.Content)
		}
	}
	return sb.String()
}

// CountUserPrompts returns the number of requests that carry a user prompt.
func CountUserPrompts(msgs []ModelMessage) int {
	n := 0
	for _, m := range msgs {
		req, ok := m.(*ModelRequest)
		if !ok {
			continue
		}
		for _, p := range req.Parts {
			if _, ok := p.(UserPromptPart); ok {
				n++
				break
			}
		}
	}
	return n
}

type messageJSON struct {
	Kind         MessageKind `json:"kind"`
	Parts        []partJSON  `json:"parts"`
	ModelName    string      `json:"model_name,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Timestamp    *time.Time  `json:"timestamp,omitempty"`
}

type partJSON struct {
	PartKind   string          `json:"part_kind"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// MarshalMessages encodes a structured transcript.
func MarshalMessages(msgs []ModelMessage) ([]byte, error) {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		switch msg := m.(type) {
		case *ModelRequest:
			mj := messageJSON{Kind: KindRequest}
			for _, p := range msg.Parts {
				pj, err := encodeRequestPart(p)
				if err != nil {
					return nil, err
				}
				mj.Parts = append(mj.Parts, pj)
			}
			out = append(out, mj)
		case *ModelResponse:
			usage := msg.Usage
			mj := messageJSON{Kind: KindResponse, ModelName: msg.ModelName, Usage: &usage, FinishReason: msg.FinishReason}
			if !msg.Timestamp.IsZero() {
				ts := msg.Timestamp
				mj.Timestamp = &ts
			}
			for _, p := range msg.Parts {
				mj.Parts = append(mj.Parts, encodeResponsePart(p))
			}
			out = append(out, mj)
		default:
			return nil, fmt.Errorf("unknown message type %T", m)
		}
	}
	return json.Marshal(out)
}

func encodeRequestPart(p RequestPart) (partJSON, error) {
	pj := partJSON{PartKind: p.requestPart()}
	switch v := p.(type) {
	case SystemPromptPart:
		pj.Content, _ = json.Marshal(v.Content)
	case UserPromptPart:
		b, err := json.Marshal(v.Content)
		if err != nil {
			return pj, err
		}
		pj.Content = b
		if !v.Timestamp.IsZero() {
			ts := v.Timestamp
			pj.Timestamp = &ts
		}
	case ToolReturnPart:
		pj.ToolName = v.ToolName
		pj.ToolCallID = v.ToolCallID
		pj.Content = v.Content
		if len(pj.Content) == 0 {
			pj.Content = json.RawMessage(`null`)
		}
	}
	return pj, nil
}

func encodeResponsePart(p ResponsePart) partJSON {
	pj := partJSON{PartKind: p.responsePart()}
	switch v := p.(type) {
	case TextPart:
		pj.Content, _ = json.Marshal(v.Content)
	case ThinkingPart:
		pj.Content, _ = json.Marshal(v.Content)
	case ToolCallPart:
		pj.ToolName = v.ToolName
		pj.ToolCallID = v.ToolCallID
		pj.Args = v.Args
		if len(pj.Args) == 0 {
			pj.Args = json.RawMessage(`{}`)
		}
	}
	return pj
}

// UnmarshalMessages decodes a structured transcript. Empty input is an empty transcript.
func UnmarshalMessages(data []byte) ([]ModelMessage, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}

	msgs := make([]ModelMessage, 0, len(raw))
	for i, mj := range raw {
		switch mj.Kind {
		case KindRequest:
			req := &ModelRequest{}
			for _, pj := range mj.Parts {
				p, err := decodeRequestPart(pj)
				if err != nil {
					return nil, fmt.Errorf("message %d: %w", i, err)
				}
				req.Parts = append(req.Parts, p)
			}
			msgs = append(msgs, req)
		case KindResponse:
			resp := &ModelResponse{ModelName: mj.ModelName, FinishReason: mj.FinishReason}
			if mj.Usage != nil {
				resp.Usage = *mj.Usage
			}
			if mj.Timestamp != nil {
				resp.Timestamp = *mj.Timestamp
			}
			for _, pj := range mj.Parts {
				p, err := decodeResponsePart(pj)
				if err != nil {
					return nil, fmt.Errorf("message %d: %w", i, err)
				}
				resp.Parts = append(resp.Parts, p)
			}
			msgs = append(msgs, resp)
		default:
			return nil, fmt.Errorf("message %d: unknown kind %q", i, mj.Kind)
		}
	}
	return msgs, nil
}

var errUnknownPartKind = errors.New("unknown part kind")

func decodeRequestPart(pj partJSON) (RequestPart, error) {
	switch pj.PartKind {
	case "system-prompt":
		var s string
		err := json.Unmarshal(pj.Content, &s)
		return SystemPromptPart{Content: s}, err
	case "user-prompt":
		var items []ContentItem
		if err := json.Unmarshal(pj.Content, &items); err != nil {
			return nil, err
		}
		p := UserPromptPart{Content: items}
		if pj.Timestamp != nil {
			p.Timestamp = *pj.Timestamp
		}
		return p, nil
	case "tool-return":
		return ToolReturnPart{ToolName: pj.ToolName, ToolCallID: pj.ToolCallID, Content: pj.Content}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownPartKind, pj.PartKind)
	}
}

func decodeResponsePart(pj partJSON) (ResponsePart, error) {
	switch pj.PartKind {
	case "text":
		var s string
		err := json.Unmarshal(pj.Content, &s)
		return TextPart{Content: s}, err
	case "thinking":
		var s string
		err := json.Unmarshal(pj.Content, &s)
		return ThinkingPart{Content: s}, err
	case "tool-call":
		return ToolCallPart{ToolName: pj.ToolName, ToolCallID: pj.ToolCallID, Args: pj.Args}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownPartKind, pj.PartKind)
	}
}
