// ABOUTME: Scripted in-memory Model for tests.
// ABOUTME: Replays queued responses and records every request it receives.

package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/parley/internal/transcript"
)

// ErrScriptExhausted is returned when a MockModel runs out of responses.
var ErrScriptExhausted = errors.New("mock model has no more responses")

// MockModel replays Responses in order. Streaming responses are delivered in
// ChunkSize-rune text deltas.
type MockModel struct {
	ModelName string
	Streaming bool
	ChunkSize int
	Responses []*transcript.ModelResponse
	// Err, when set, is returned from every call.
	Err error
	// OnRequest runs before each call with its zero-based index.
	OnRequest func(n int, req Request)

	mu       sync.Mutex
	requests []Request
}

var _ Model = (*MockModel)(nil)

func (m *MockModel) Name() string {
	if m.ModelName == "" {
		return "mock"
	}
	return m.ModelName
}

func (m *MockModel) SupportsStreaming() bool { return m.Streaming }

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) next(req Request) (*transcript.ModelResponse, error) {
	m.mu.Lock()
	n := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.OnRequest != nil {
		m.OnRequest(n, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if n >= len(m.Responses) {
		return nil, ErrScriptExhausted
	}
	resp := *m.Responses[n]
	if resp.ModelName == "" {
		resp.ModelName = m.Name()
	}
	if resp.Usage.Requests == 0 {
		resp.Usage.Requests = 1
	}
	return &resp, nil
}

func (m *MockModel) Request(ctx context.Context, req Request) (*transcript.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.next(req)
}

func (m *MockModel) RequestStream(ctx context.Context, req Request, fn func(Delta) error) (*transcript.ModelResponse, error) {
	resp, err := m.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	size := m.ChunkSize
	if size <= 0 {
		size = 4
	}
	for _, p := range resp.Parts {
		var deltas []Delta
		switch v := p.(type) {
		case transcript.ThinkingPart:
			for _, piece := range chunkRunes(v.Content, size) {
				deltas = append(deltas, Delta{Kind: DeltaReasoning, Text: piece})
			}
		case transcript.TextPart:
			for _, piece := range chunkRunes(v.Content, size) {
				deltas = append(deltas, Delta{Kind: DeltaText, Text: piece})
			}
		case transcript.ToolCallPart:
			deltas = append(deltas,
				Delta{Kind: DeltaToolCallStart, ToolCallID: v.ToolCallID, ToolName: v.ToolName},
				Delta{Kind: DeltaToolCallArgs, ToolCallID: v.ToolCallID, Text: string(v.Args)})
		}
		for _, d := range deltas {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := fn(d); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

func chunkRunes(s string, n int) []string {
	r := []rune(s)
	var out []string
	for len(r) > 0 {
		end := min(n, len(r))
		out = append(out, string(r[:end]))
		r = r[end:]
	}
	return out
}
