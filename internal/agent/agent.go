// ABOUTME: Orchestrator wiring, turn requests and turn validation.
// ABOUTME: Prepare turns a chat request into a validated Turn before any streaming starts.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/parley/internal/blob"
	"github.com/2389/parley/internal/cancel"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/ingest"
	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/prompts"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/tools"
	"github.com/2389/parley/internal/transcript"
)

// ErrInvalidTurn is returned for turns that cannot be run.
var ErrInvalidTurn = errors.New("invalid turn")

var errIngestionFailed = errors.New("ingestion failed")

// ConversationStore is the slice of the store the orchestrator needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendTurn(ctx context.Context, id string, turn *store.Turn) error
	SetTitle(ctx context.Context, id, title string) error
}

// ModelSource resolves a model by name; an empty name selects the default.
type ModelSource interface {
	Get(name string) (llm.Model, error)
}

// Ingester materializes a turn's documents.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request, b protocol.Builder, emit func(protocol.Event) error) (ingest.Result, error)
}

// FeatureFlags gates tools globally.
type FeatureFlags interface {
	Enabled(tool string) bool
}

// Capabilities are the per-request tool toggles.
type Capabilities struct {
	WebSearch bool `json:"web_search"`
	Summarize bool `json:"summarize"`
	Translate bool `json:"translate"`
}

// ChatRequest is a turn submission.
type ChatRequest struct {
	ConversationID string                 `json:"id"`
	Messages       []transcript.UIMessage `json:"messages"`
	Protocol       string                 `json:"protocol"`
	Model          string                 `json:"model"`
	ForceTool      string                 `json:"force_tool,omitempty"`
	Capabilities   Capabilities           `json:"capabilities"`
}

// Config tunes the orchestrator.
type Config struct {
	MaxSteps            int
	FakeChunkSize       int
	FakeChunkDelay      time.Duration
	CancelPollInterval  time.Duration
	TitlesEnabled       bool
	TitleAfterUserTurns int
	StoragePrefix       string
}

// ConfigFrom extracts the orchestrator settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxSteps:            cfg.Streaming.MaxSteps,
		FakeChunkSize:       cfg.Streaming.FakeChunkSize,
		FakeChunkDelay:      cfg.Streaming.FakeChunkDelay,
		CancelPollInterval:  cfg.Streaming.CancelPollInterval,
		TitlesEnabled:       cfg.Titles.Enabled,
		TitleAfterUserTurns: cfg.Titles.AfterUserTurns,
		StoragePrefix:       cfg.Storage.PublicPrefix,
	}
}

// Options holds the orchestrator's collaborators.
type Options struct {
	Store    ConversationStore
	Models   ModelSource
	Tools    *tools.Registry
	Ingester Ingester
	Blobs    blob.Store
	Prompts  *prompts.Templates
	Features FeatureFlags
	Cancel   cancel.Flags
	Config   Config
	Logger   *slog.Logger
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	store     ConversationStore
	models    ModelSource
	tools     *tools.Registry
	ingester  Ingester
	blobs     blob.Store
	prompts   *prompts.Templates
	features  FeatureFlags
	cancel    cancel.Flags
	cfg       Config
	converter transcript.Converter
	logger    *slog.Logger

	// background tracks title generation goroutines
	background sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}
	if cfg.FakeChunkSize <= 0 {
		cfg.FakeChunkSize = 8
	}
	if cfg.TitleAfterUserTurns <= 0 {
		cfg.TitleAfterUserTurns = 2
	}
	p := opts.Prompts
	if p == nil {
		p = prompts.Default()
	}
	reg := opts.Tools
	if reg == nil {
		reg = tools.NewRegistry(logger)
	}
	return &Orchestrator{
		store:     opts.Store,
		models:    opts.Models,
		tools:     reg,
		ingester:  opts.Ingester,
		blobs:     opts.Blobs,
		prompts:   p,
		features:  opts.Features,
		cancel:    opts.Cancel,
		cfg:       cfg,
		converter: transcript.Converter{StoragePrefix: cfg.StoragePrefix},
		logger:    logger.With("component", "orchestrator"),
	}
}

// Wait blocks until background title generation has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// Turn is a validated chat request ready to run.
type Turn struct {
	ConversationID string
	Mode           protocol.Mode
	ForceTool      string
	Capabilities   Capabilities

	user      transcript.UIMessage
	prompt    transcript.UserPromptPart
	images    []transcript.ContentItem
	documents []transcript.ContentItem
	model     llm.Model
}

// Prepare validates req. Every error it returns wraps ErrInvalidTurn.
func (o *Orchestrator) Prepare(req ChatRequest) (*Turn, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidTurn, fmt.Sprintf(format, args...))
	}

	if req.ConversationID == "" {
		return nil, invalid("conversation id is required")
	}
	mode, err := protocol.ParseMode(req.Protocol)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if len(req.Messages) == 0 {
		return nil, invalid("no messages")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != transcript.RoleUser {
		return nil, invalid("last message must come from the user, got %q", last.Role)
	}
	if n := countTextParts(last); n != 1 {
		return nil, invalid("expected exactly one text part, got %d", n)
	}
	if err := checkMedia(last); err != nil {
		return nil, invalid("%v", err)
	}

	prompt, err := o.converter.UserPrompt(last)
	if err != nil {
		return nil, invalid("%v", err)
	}
	if prompt.Timestamp.IsZero() {
		prompt.Timestamp = time.Now().UTC()
	}

	turn := &Turn{
		ConversationID: req.ConversationID,
		Mode:           mode,
		ForceTool:      req.ForceTool,
		Capabilities:   req.Capabilities,
		user:           last,
		prompt:         prompt,
	}
	for _, item := range prompt.Content {
		switch item.Kind {
		case transcript.ContentImage:
			if item.Source == transcript.SourceStorage && !strings.HasPrefix(item.Key, req.ConversationID+"/") {
				return nil, invalid("image %s does not belong to this conversation", item.Key)
			}
			turn.images = append(turn.images, item)
		case transcript.ContentDocument:
			turn.documents = append(turn.documents, item)
		}
	}

	if req.ForceTool != "" && !o.tools.Has(req.ForceTool) {
		return nil, invalid("unknown tool %q", req.ForceTool)
	}

	turn.model, err = o.models.Get(req.Model)
	if err != nil {
		return nil, invalid("%v", err)
	}
	return turn, nil
}

func countTextParts(m transcript.UIMessage) int {
	if len(m.Parts) == 0 {
		if strings.TrimSpace(m.Content) != "" {
			return 1
		}
		return 0
	}
	n := 0
	for _, p := range m.Parts {
		if _, ok := p.(transcript.TextUIPart); ok {
			n++
		}
	}
	return n
}

// checkMedia rejects audio and video attachments.
func checkMedia(m transcript.UIMessage) error {
	check := func(mediaType, name string) error {
		if strings.HasPrefix(mediaType, "audio/") || strings.HasPrefix(mediaType, "video/") {
			return fmt.Errorf("unsupported media type %s for %q", mediaType, name)
		}
		return nil
	}
	for _, p := range m.Parts {
		if f, ok := p.(transcript.FileUIPart); ok {
			if err := check(f.MimeType, f.Name); err != nil {
				return err
			}
		}
	}
	for _, a := range m.Attachments {
		if err := check(a.ContentType, a.Name); err != nil {
			return err
		}
	}
	return nil
}

// toolsFor lists the tools offered for a turn, in a stable order.
func (o *Orchestrator) toolsFor(turn *Turn, hasDocuments bool) []string {
	wanted := []struct {
		name string
		on   bool
	}{
		{tools.WebSearch, turn.Capabilities.WebSearch},
		{tools.DocumentSearch, hasDocuments},
		{tools.Summarize, turn.Capabilities.Summarize && hasDocuments},
		{tools.Translate, turn.Capabilities.Translate},
	}
	var names []string
	for _, w := range wanted {
		forced := turn.ForceTool == w.name
		if !w.on && !forced {
			continue
		}
		if o.features != nil && !o.features.Enabled(w.name) {
			continue
		}
		if !o.tools.Has(w.name) {
			continue
		}
		names = append(names, w.name)
	}
	return names
}
