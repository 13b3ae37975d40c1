// ABOUTME: OpenAI-compatible chat completions client with SSE streaming.
// ABOUTME: Converts structured transcripts to provider messages and back.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/transcript"
)

// OpenAIClient calls a /chat/completions endpoint.
type OpenAIClient struct {
	name      string
	model     string
	baseURL   string
	apiKey    string
	streaming bool
	client    *http.Client
	logger    *slog.Logger
}

var _ Model = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for one configured provider.
func NewOpenAIClient(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OpenAIClient{
		name:      cfg.Name,
		model:     cfg.Model,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		streaming: cfg.Streaming,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "llm", "provider", cfg.Name),
	}
}

func (c *OpenAIClient) Name() string            { return c.name }
func (c *OpenAIClient) SupportsStreaming() bool { return c.streaming }

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []chatTool     `json:"tools,omitempty"`
	ToolChoice    any            `json:"tool_choice,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// choiceMessage is used for both full messages and stream deltas.
type choiceMessage struct {
	Content          json.RawMessage `json:"content"`
	ReasoningContent json.RawMessage `json:"reasoning_content"`
	Reasoning        json.RawMessage `json:"reasoning"`
	ToolCalls        []chatToolCall  `json:"tool_calls"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      choiceMessage `json:"message"`
		Delta        choiceMessage `json:"delta"`
		FinishReason *string       `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

func (c *OpenAIClient) Request(ctx context.Context, req Request) (*transcript.ModelResponse, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.name)
	}

	choice := parsed.Choices[0]
	out := &transcript.ModelResponse{ModelName: c.modelName(parsed.Model), Timestamp: time.Now().UTC()}
	if r := normalizeReasoning(choice.Message.ReasoningContent, choice.Message.Reasoning); r != "" {
		out.Parts = append(out.Parts, transcript.ThinkingPart{Content: r})
	}
	if text := normalizeContent(choice.Message.Content); text != "" {
		out.Parts = append(out.Parts, transcript.TextPart{Content: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Parts = append(out.Parts, transcript.ToolCallPart{
			ToolName:   tc.Function.Name,
			ToolCallID: normalizeToolCallID(tc.ID),
			Args:       normalizeArguments(tc.Function.Arguments),
		})
	}
	if choice.FinishReason != nil {
		out.FinishReason = normalizeFinishReason(*choice.FinishReason)
	}
	out.Usage = usageOf(parsed.Usage)
	return out, nil
}

// toolCallAccumulator collects one streamed tool call.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (c *OpenAIClient) RequestStream(ctx context.Context, req Request, fn func(Delta) error) (*transcript.ModelResponse, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text      strings.Builder
		reasoning strings.Builder
		calls     = map[int]*toolCallAccumulator{}
		model     string
		finish    string
		usage     *chatUsage
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping undecodable stream chunk", "error", err)
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		for _, ch := range chunk.Choices {
			if r := normalizeReasoning(ch.Delta.ReasoningContent, ch.Delta.Reasoning); r != "" {
				reasoning.WriteString(r)
				if err := fn(Delta{Kind: DeltaReasoning, Text: r}); err != nil {
					return nil, err
				}
			}
			if t := normalizeContent(ch.Delta.Content); t != "" {
				text.WriteString(t)
				if err := fn(Delta{Kind: DeltaText, Text: t}); err != nil {
					return nil, err
				}
			}
			for i, tc := range ch.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, seen := calls[idx]
				if !seen {
					acc = &toolCallAccumulator{id: normalizeToolCallID(tc.ID), name: tc.Function.Name}
					calls[idx] = acc
					if err := fn(Delta{Kind: DeltaToolCallStart, ToolCallID: acc.id, ToolName: acc.name}); err != nil {
						return nil, err
					}
				}
				if acc.name == "" {
					acc.name = tc.Function.Name
				}
				if frag := argumentFragment(tc.Function.Arguments); frag != "" {
					acc.args.WriteString(frag)
					if err := fn(Delta{Kind: DeltaToolCallArgs, ToolCallID: acc.id, Text: frag}); err != nil {
						return nil, err
					}
				}
			}
			if ch.FinishReason != nil && *ch.FinishReason != "" {
				finish = normalizeFinishReason(*ch.FinishReason)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	out := &transcript.ModelResponse{ModelName: c.modelName(model), FinishReason: finish, Timestamp: time.Now().UTC()}
	if reasoning.Len() > 0 {
		out.Parts = append(out.Parts, transcript.ThinkingPart{Content: reasoning.String()})
	}
	if text.Len() > 0 {
		out.Parts = append(out.Parts, transcript.TextPart{Content: text.String()})
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := calls[idx]
		out.Parts = append(out.Parts, transcript.ToolCallPart{
			ToolName:   acc.name,
			ToolCallID: acc.id,
			Args:       argumentsFromString(acc.args.String()),
		})
	}
	out.Usage = usageOf(usage)
	return out, nil
}

// argumentFragment returns a streamed arguments chunk as raw text.
func argumentFragment(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func (c *OpenAIClient) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	payload := chatRequest{
		Model:    c.model,
		Messages: buildMessages(req),
		Stream:   stream,
	}
	if stream {
		payload.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, t := range req.Tools {
		payload.Tools = append(payload.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	switch req.ToolChoice {
	case "":
	case "none", "auto", "required":
		payload.ToolChoice = req.ToolChoice
	default:
		payload.ToolChoice = map[string]any{"type": "function", "function": map[string]string{"name": req.ToolChoice}}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	c.logger.Debug("model request", "messages", len(payload.Messages), "tools", len(payload.Tools), "stream", stream)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", c.name, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%s API error: %s (%s)", c.name, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func (c *OpenAIClient) modelName(reported string) string {
	if reported != "" {
		return reported
	}
	return c.model
}

func usageOf(u *chatUsage) transcript.Usage {
	out := transcript.Usage{Requests: 1}
	if u != nil {
		out.InputTokens = u.PromptTokens
		out.OutputTokens = u.CompletionTokens
	}
	return out
}

// buildMessages flattens instructions and the structured transcript into
// provider messages.
func buildMessages(req Request) []chatMessage {
	var out []chatMessage
	if req.Instructions != "" {
		out = append(out, chatMessage{Role: "system", Content: req.Instructions})
	}
	for _, m := range req.Messages {
		switch v := m.(type) {
		case *transcript.ModelRequest:
			for _, p := range v.Parts {
				switch part := p.(type) {
				case transcript.SystemPromptPart:
					out = append(out, chatMessage{Role: "system", Content: part.Content})
				case transcript.UserPromptPart:
					out = append(out, chatMessage{Role: "user", Content: userContent(part.Content)})
				case transcript.ToolReturnPart:
					out = append(out, chatMessage{Role: "tool", ToolCallID: part.ToolCallID, Content: string(part.Content)})
				}
			}
		case *transcript.ModelResponse:
			msg := chatMessage{Role: "assistant"}
			if text := v.Text(); text != "" {
				msg.Content = text
			}
			for _, tc := range v.ToolCalls() {
				args := tc.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				encoded, _ := json.Marshal(string(args))
				msg.ToolCalls = append(msg.ToolCalls, chatToolCall{
					ID:       tc.ToolCallID,
					Type:     "function",
					Function: chatFunctionCall{Name: tc.ToolName, Arguments: encoded},
				})
			}
			if msg.Content == nil && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, msg)
		}
	}
	return out
}

// userContent renders a user prompt. Documents are represented by name since
// their text is reachable through retrieval; images are sent inline or by URL.
func userContent(items []transcript.ContentItem) any {
	parts := make([]contentPart, 0, len(items))
	onlyText := true
	for _, it := range items {
		switch it.Kind {
		case transcript.ContentText:
			parts = append(parts, contentPart{Type: "text", Text: it.Text})
		case transcript.ContentImage:
			switch it.Source {
			case transcript.SourceInline:
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: it.DataURL()}})
				onlyText = false
			case transcript.SourceURL:
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: it.URL}})
				onlyText = false
			default:
				parts = append(parts, contentPart{Type: "text", Text: "[image: " + it.Name + "]"})
			}
		default:
			parts = append(parts, contentPart{Type: "text", Text: "[attached document: " + it.Name + "]"})
		}
	}
	if onlyText {
		texts := make([]string, len(parts))
		for i, p := range parts {
			texts[i] = p.Text
		}
		return strings.Join(texts, "\n")
	}
	return parts
}
