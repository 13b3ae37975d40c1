// ABOUTME: Model interface, request and streaming delta types.
// ABOUTME: Responses are returned as structured transcript messages.

package llm

import (
	"context"
	"encoding/json"

	"github.com/2389/parley/internal/transcript"
)

// ToolDefinition describes a callable tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one model call.
type Request struct {
	Instructions string
	Messages     []transcript.ModelMessage
	Tools        []ToolDefinition
	// ToolChoice is "" for the provider default, "none", "required", or a tool name.
	ToolChoice string
}

// DeltaKind identifies a streamed fragment.
type DeltaKind int

const (
	DeltaText DeltaKind = iota
	DeltaReasoning
	DeltaToolCallStart
	DeltaToolCallArgs
)

// Delta is one streamed fragment of a response.
type Delta struct {
	Kind       DeltaKind
	Text       string
	ToolCallID string
	ToolName   string
}

// Model is a chat model.
type Model interface {
	Name() string
	// SupportsStreaming reports whether RequestStream delivers incremental deltas.
	SupportsStreaming() bool
	Request(ctx context.Context, req Request) (*transcript.ModelResponse, error)
	// RequestStream calls fn for every fragment and returns the assembled response.
	RequestStream(ctx context.Context, req Request, fn func(Delta) error) (*transcript.ModelResponse, error)
}
