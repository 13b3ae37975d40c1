// ABOUTME: Bidirectional conversion between UI messages and structured messages.
// ABOUTME: Assistant steps map to response/tool-return pairs separated by step-start parts.

package transcript

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedPart is returned when a part cannot appear where it was found.
var ErrUnsupportedPart = errors.New("unsupported message part")

// Converter maps between the two transcript models.
type Converter struct {
	// StoragePrefix is the same-origin path under which stored blobs are served.
	StoragePrefix string
}

// ToModelMessages converts UI messages into structured messages.
// Source and step-start parts are not allowed in user messages.
func (c Converter) ToModelMessages(msgs []UIMessage) ([]ModelMessage, error) {
	var out []ModelMessage
	for i, m := range msgs {
		switch m.Role {
		case RoleUser:
			prompt, err := c.UserPrompt(m)
			if err != nil {
				return nil, fmt.Errorf("message %d: %w", i, err)
			}
			out = append(out, &ModelRequest{Parts: []RequestPart{prompt}})
		case RoleSystem:
			out = append(out, &ModelRequest{Parts: []RequestPart{SystemPromptPart{Content: messageText(m)}}})
		case RoleAssistant:
			out = append(out, assistantToModel(m)...)
		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
	}
	return out, nil
}

// UserPrompt converts one user message into a prompt part.
func (c Converter) UserPrompt(m UIMessage) (UserPromptPart, error) {
	var items []ContentItem
	if len(m.Parts) == 0 && m.Content != "" {
		items = append(items, TextItem(m.Content))
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextUIPart:
			items = append(items, TextItem(v.Text))
		case FileUIPart:
			ref := v.URL
			if ref == "" {
				ref = "data:" + v.MimeType + ";base64," + v.Data
			}
			item, err := NormalizeAttachment(v.Name, v.MimeType, ref, c.StoragePrefix)
			if err != nil {
				return UserPromptPart{}, err
			}
			items = append(items, item)
		default:
			return UserPromptPart{}, fmt.Errorf("%w: %q in user message", ErrUnsupportedPart, p.PartType())
		}
	}
	for _, a := range m.Attachments {
		item, err := NormalizeAttachment(a.Name, a.ContentType, a.URL, c.StoragePrefix)
		if err != nil {
			return UserPromptPart{}, err
		}
		items = append(items, item)
	}

	p := UserPromptPart{Content: items}
	if m.CreatedAt != nil {
		p.Timestamp = *m.CreatedAt
	}
	return p, nil
}

func assistantToModel(m UIMessage) []ModelMessage {
	var (
		out     []ModelMessage
		resp    = &ModelResponse{}
		returns []RequestPart
	)
	flush := func() {
		if len(resp.Parts) > 0 {
			out = append(out, resp)
		}
		if len(returns) > 0 {
			out = append(out, &ModelRequest{Parts: returns})
		}
		resp = &ModelResponse{}
		returns = nil
	}

	if len(m.Parts) == 0 && m.Content != "" {
		resp.Parts = append(resp.Parts, TextPart{Content: m.Content})
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case StepStartUIPart:
			flush()
		case TextUIPart:
			resp.Parts = append(resp.Parts, TextPart{Content: v.Text})
		case ReasoningUIPart:
			resp.Parts = append(resp.Parts, ThinkingPart{Content: v.Reasoning})
		case ToolInvocationUIPart:
			inv := v.ToolInvocation
			resp.Parts = append(resp.Parts, ToolCallPart{ToolName: inv.ToolName, ToolCallID: inv.ToolCallID, Args: inv.Args})
			if inv.State == StateResult {
				returns = append(returns, ToolReturnPart{ToolName: inv.ToolName, ToolCallID: inv.ToolCallID, Content: inv.Result})
			}
		}
		// Sources and files on assistant messages are presentation only.
	}
	flush()
	return out
}

// ToUIMessages converts structured messages into UI messages. Consecutive
// responses and tool returns fold into one assistant message, one step each.
func (c Converter) ToUIMessages(msgs []ModelMessage) ([]UIMessage, error) {
	var (
		out       []UIMessage
		assistant *UIMessage
	)
	closeAssistant := func() {
		if assistant != nil {
			out = append(out, *assistant)
			assistant = nil
		}
	}

	for i, m := range msgs {
		switch msg := m.(type) {
		case *ModelRequest:
			for _, p := range msg.Parts {
				switch v := p.(type) {
				case UserPromptPart:
					closeAssistant()
					out = append(out, c.userToUI(v))
				case ToolReturnPart:
					if assistant == nil {
						assistant = &UIMessage{Role: RoleAssistant}
					}
					attachResult(assistant, v)
				case SystemPromptPart:
				}
			}
		case *ModelResponse:
			if assistant == nil {
				assistant = &UIMessage{Role: RoleAssistant}
			}
			assistant.Parts = append(assistant.Parts, StepStartUIPart{})
			for _, p := range msg.Parts {
				switch v := p.(type) {
				case TextPart:
					assistant.Parts = append(assistant.Parts, TextUIPart{Text: v.Content})
				case ThinkingPart:
					assistant.Parts = append(assistant.Parts, ReasoningUIPart{Reasoning: v.Content})
				case ToolCallPart:
					assistant.Parts = append(assistant.Parts, ToolInvocationUIPart{ToolInvocation: ToolInvocation{
						State:      StateCall,
						ToolCallID: v.ToolCallID,
						ToolName:   v.ToolName,
						Args:       v.Args,
					}})
				}
			}
		default:
			return nil, fmt.Errorf("message %d: unknown message type %T", i, m)
		}
	}
	closeAssistant()

	for i := range out {
		if out[i].Role == RoleAssistant {
			out[i].Content = messageText(out[i])
		}
	}
	return out, nil
}

func (c Converter) userToUI(p UserPromptPart) UIMessage {
	m := UIMessage{Role: RoleUser}
	if !p.Timestamp.IsZero() {
		ts := p.Timestamp
		m.CreatedAt = &ts
	}
	var texts []string
	for _, item := range p.Content {
		switch item.Kind {
		case ContentText:
			texts = append(texts, item.Text)
			m.Parts = append(m.Parts, TextUIPart{Text: item.Text})
		default:
			fp := FileUIPart{MimeType: item.MediaType, Name: item.Name}
			if item.Source == SourceInline {
				fp.Data = base64.StdEncoding.EncodeToString(item.Data)
			} else {
				fp.URL = item.Reference(c.StoragePrefix)
			}
			m.Parts = append(m.Parts, fp)
		}
	}
	m.Content = strings.Join(texts, "\n")
	return m
}

func attachResult(m *UIMessage, ret ToolReturnPart) {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		inv, ok := m.Parts[i].(ToolInvocationUIPart)
		if !ok || inv.ToolInvocation.ToolCallID != ret.ToolCallID {
			continue
		}
		inv.ToolInvocation.State = StateResult
		inv.ToolInvocation.Result = ret.Content
		m.Parts[i] = inv
		return
	}
	m.Parts = append(m.Parts, ToolInvocationUIPart{ToolInvocation: ToolInvocation{
		State:      StateResult,
		ToolCallID: ret.ToolCallID,
		ToolName:   ret.ToolName,
		Args:       json.RawMessage(`{}`),
		Result:     ret.Content,
	}})
}

func messageText(m UIMessage) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextUIPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
