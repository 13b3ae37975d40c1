// ABOUTME: Thread-safe tool registry with name-based dispatch and per-call timeouts.
// ABOUTME: Unknown tools and handler errors become error payloads for the model.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/transcript"
)

// Tool names.
const (
	WebSearch      = "web_search"
	DocumentSearch = "document_search"
	Summarize      = "summarize"
	Translate      = "translate"
)

var (
	// ErrUnknownTool indicates the model called a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrToolCollision indicates a tool name is already registered.
	ErrToolCollision = errors.New("tool name collision")
	// ErrInvalidInput indicates the tool arguments could not be used.
	ErrInvalidInput = errors.New("invalid tool input")
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 60 * time.Second

// Env is the per-run context a tool executes in.
type Env struct {
	ConversationID string
	CollectionID   string
	// Model is the model driving the run, for tools that call back into it.
	Model llm.Model
}

// Output is what a handler returns: a JSON payload for the model and the
// citations it is based on. Usage counts model calls the tool made itself.
type Output struct {
	Payload any
	Sources []protocol.Source
	Usage   transcript.Usage
}

// Handler executes a tool.
type Handler func(ctx context.Context, env Env, input json.RawMessage) (*Output, error)

// Tool is a registered tool.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    Handler
	Timeout    time.Duration
}

// Result is the outcome of one call as sent back to the model.
type Result struct {
	Content json.RawMessage
	Sources []protocol.Source
	Usage   transcript.Usage
	// Err is set when Content carries an error payload.
	Err error
}

// Registry maps tool names to tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]*Tool), logger: logger.With("component", "tools")}
}

// Register adds tools. Returns ErrToolCollision if a name is taken.
func (r *Registry) Register(tools ...*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Definition.Name]; exists {
			return fmt.Errorf("%w: %s", ErrToolCollision, t.Definition.Name)
		}
	}
	for _, t := range tools {
		r.tools[t.Definition.Name] = t
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns the definitions of the named tools that are registered,
// in the order given.
func (r *Registry) Definitions(names []string) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []llm.ToolDefinition
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			defs = append(defs, t.Definition)
		}
	}
	return defs
}

// Execute runs a tool call. It always returns a result the model can read.
func (r *Registry) Execute(ctx context.Context, env Env, name string, input json.RawMessage) Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("model called unknown tool", "tool_name", name, "conversation_id", env.ConversationID)
		return errorResult(fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Handler(ctx, env, input)
	if err != nil {
		r.logger.Warn("tool error", "tool_name", name, "conversation_id", env.ConversationID, "error", err)
		return errorResult(err)
	}

	content, err := json.Marshal(out.Payload)
	if err != nil {
		return errorResult(fmt.Errorf("encoding %s output: %w", name, err))
	}
	r.logger.Info("tool executed", "tool_name", name, "conversation_id", env.ConversationID,
		"sources", len(out.Sources), "duration", time.Since(start))
	return Result{Content: content, Sources: out.Sources, Usage: out.Usage}
}

func errorResult(err error) Result {
	content, _ := json.Marshal(map[string]string{"error": err.Error()})
	return Result{Content: content, Err: err}
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
