// ABOUTME: Per-turn run: ingestion, the model/tool loop, persistence and terminal events.
// ABOUTME: Every failure path still ends the stream with a finish event.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley/internal/cancel"
	"github.com/2389/parley/internal/ingest"
	"github.com/2389/parley/internal/llm"
	"github.com/2389/parley/internal/protocol"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/tools"
	"github.com/2389/parley/internal/transcript"
)

// emitError marks a failure to hand an event to the consumer.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emitting event: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// streamingState is the per-run bookkeeping behind the event stream.
type streamingState struct {
	// streamed holds tool calls whose start was already sent incrementally.
	streamed  map[string]bool
	sources   []protocol.Source
	messageID string
}

type run struct {
	o      *Orchestrator
	turn   *Turn
	b      protocol.Builder
	emit   func(protocol.Event) error
	token  *cancel.Token
	state  streamingState
	usage  transcript.Usage
	model  string
	logger *slog.Logger

	// toolErrors counts tool calls answered with an error payload.
	toolErrors int
}

// Run executes turn, handing events to emit in order. It is a
// stream.Producer body: it returns nil once a terminal finish event has been
// emitted and an error only when events could no longer be delivered.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, emit func(protocol.Event) error) error {
	convID := turn.ConversationID
	o.cancel.Clear(convID)
	defer o.cancel.Clear(convID)

	r := &run{
		o:      o,
		turn:   turn,
		b:      protocol.NewBuilder(turn.Mode.Version()),
		emit:   emit,
		token:  cancel.NewToken(o.cancel, convID, o.cfg.CancelPollInterval),
		state:  streamingState{streamed: make(map[string]bool)},
		model:  turn.model.Name(),
		logger: o.logger.With("conversation_id", convID, "model", turn.model.Name()),
	}

	start := time.Now()
	err := r.execute(ctx)

	var ee *emitError
	switch {
	case err == nil:
		r.logger.Info("turn complete", "duration", time.Since(start), "input_tokens", r.usage.InputTokens,
			"output_tokens", r.usage.OutputTokens, "tool_errors", r.toolErrors)
		return nil
	case errors.As(err, &ee):
		r.logger.Info("client stopped reading", "error", ee.err)
		return ee.err
	case cancel.Aborted(err) || ctx.Err() != nil:
		if errors.Is(err, cancel.ErrCanceled) {
			r.logger.Info("turn canceled", "duration", time.Since(start))
			return r.sendRaw(r.b.Finish(protocol.FinishOther, r.wireUsage()))
		}
		// Nobody is reading anymore.
		r.logger.Info("request context ended", "error", err)
		return err
	case errors.Is(err, errIngestionFailed):
		return r.sendRaw(r.b.Finish(protocol.FinishError, r.wireUsage()))
	default:
		r.logger.Error("turn failed", "error", err)
		if err := r.sendRaw(r.b.Error(err.Error())); err != nil {
			return err
		}
		return r.sendRaw(r.b.Finish(protocol.FinishError, r.wireUsage()))
	}
}

func (r *run) execute(ctx context.Context) error {
	conv, err := r.o.conversation(ctx, r.turn.ConversationID)
	if err != nil {
		return err
	}

	collectionID := conv.CollectionID
	if len(r.turn.documents) > 0 {
		res, err := r.o.ingester.Ingest(ctx, ingest.Request{
			ConversationID: r.turn.ConversationID,
			CollectionID:   collectionID,
			Documents:      r.turn.documents,
		}, r.b, func(e protocol.Event) error { return r.send(e) })
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("%w: %v", errIngestionFailed, res.Err)
		}
		collectionID = res.CollectionID
	}

	offered := r.o.toolsFor(r.turn, collectionID != "")
	forced := r.turn.ForceTool
	if forced != "" && !slices.Contains(offered, forced) {
		r.logger.Warn("forced tool is not available", "tool_name", forced)
		forced = ""
	}
	instructions := r.o.prompts.Instructions(offered, forced)
	definitions := r.o.tools.Definitions(offered)
	env := tools.Env{ConversationID: r.turn.ConversationID, CollectionID: collectionID, Model: r.turn.model}

	stored := &transcript.ModelRequest{Parts: []transcript.RequestPart{r.turn.prompt}}
	sent := &transcript.ModelRequest{Parts: []transcript.RequestPart{r.o.inlineImages(ctx, r.turn.prompt)}}
	newMessages := []transcript.ModelMessage{stored}

	reason := protocol.FinishToolCalls
	toolChoice := forced
	for step := 0; step < r.o.cfg.MaxSteps; step++ {
		if err := r.token.Check(ctx); err != nil {
			return err
		}

		history := slices.Concat(conv.ModelMessages, []transcript.ModelMessage{sent}, newMessages[1:])
		resp, err := r.request(ctx, llm.Request{
			Instructions: instructions,
			Messages:     history,
			Tools:        definitions,
			ToolChoice:   toolChoice,
		})
		if err != nil {
			return err
		}
		toolChoice = ""
		newMessages = append(newMessages, resp)
		r.usage = r.usage.Add(resp.Usage)
		if resp.ModelName != "" {
			r.model = resp.ModelName
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			reason = finishReason(resp.FinishReason)
			if err := r.send(r.b.StepFinish(reason, wireUsage(resp.Usage), false)...); err != nil {
				return err
			}
			break
		}

		returns := make([]transcript.RequestPart, 0, len(calls))
		for _, call := range calls {
			if err := r.token.Check(ctx); err != nil {
				return err
			}
			ret, err := r.executeTool(ctx, env, offered, call)
			if err != nil {
				return err
			}
			returns = append(returns, ret)
		}
		newMessages = append(newMessages, &transcript.ModelRequest{Parts: returns})
		if err := r.send(r.b.StepFinish(protocol.FinishToolCalls, wireUsage(resp.Usage), false)...); err != nil {
			return err
		}
	}
	if reason == protocol.FinishToolCalls {
		r.logger.Warn("step limit reached", "max_steps", r.o.cfg.MaxSteps)
	}

	r.state.messageID = uuid.NewString()
	if err := r.send(r.b.StepStart(r.state.messageID)...); err != nil {
		return err
	}

	if err := r.token.Force(ctx); err != nil {
		return err
	}
	if err := r.persist(ctx, conv, newMessages); err != nil {
		return err
	}
	r.o.maybeGenerateTitle(conv, r.turn)

	return r.send(r.b.Finish(reason, r.wireUsage())...)
}

// request performs one model call, streaming its fragments.
func (r *run) request(ctx context.Context, req llm.Request) (*transcript.ModelResponse, error) {
	model := r.turn.model
	if model.SupportsStreaming() {
		return model.RequestStream(ctx, req, func(d llm.Delta) error {
			if err := r.token.Check(ctx); err != nil {
				return err
			}
			return r.forward(d)
		})
	}

	resp, err := model.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, p := range resp.Parts {
		switch v := p.(type) {
		case transcript.ThinkingPart:
			if err := r.send(r.b.Reasoning(v.Content)...); err != nil {
				return nil, err
			}
		case transcript.TextPart:
			for i, piece := range SliceText(v.Content, r.o.cfg.FakeChunkSize) {
				if i > 0 {
					if err := r.pause(ctx); err != nil {
						return nil, err
					}
				}
				if err := r.send(r.b.Text(piece)...); err != nil {
					return nil, err
				}
			}
		}
	}
	return resp, nil
}

func (r *run) forward(d llm.Delta) error {
	switch d.Kind {
	case llm.DeltaText:
		return r.send(r.b.Text(d.Text)...)
	case llm.DeltaReasoning:
		return r.send(r.b.Reasoning(d.Text)...)
	case llm.DeltaToolCallStart:
		r.state.streamed[d.ToolCallID] = true
		return r.send(r.b.ToolCallStart(d.ToolCallID, d.ToolName)...)
	case llm.DeltaToolCallArgs:
		return r.send(r.b.ToolCallDelta(d.ToolCallID, d.Text)...)
	}
	return nil
}

// pause waits out the synthetic streaming delay.
func (r *run) pause(ctx context.Context) error {
	if err := r.token.Check(ctx); err != nil {
		return err
	}
	if r.o.cfg.FakeChunkDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.o.cfg.FakeChunkDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *run) executeTool(ctx context.Context, env tools.Env, offered []string, call transcript.ToolCallPart) (transcript.ToolReturnPart, error) {
	ret := transcript.ToolReturnPart{ToolName: call.ToolName, ToolCallID: call.ToolCallID}
	if !r.state.streamed[call.ToolCallID] {
		if err := r.send(r.b.ToolCall(call.ToolCallID, call.ToolName, call.Args)...); err != nil {
			return ret, err
		}
	}

	var res tools.Result
	if slices.Contains(offered, call.ToolName) {
		res = r.o.tools.Execute(ctx, env, call.ToolName, call.Args)
	} else {
		r.logger.Warn("model called a tool it was not offered", "tool_name", call.ToolName)
		err := fmt.Errorf("%w: %s", tools.ErrUnknownTool, call.ToolName)
		content, _ := json.Marshal(map[string]string{"error": err.Error()})
		res = tools.Result{Content: content, Err: err}
	}
	ret.Content = res.Content
	r.usage = r.usage.Add(res.Usage)
	if res.Err != nil {
		r.toolErrors++
		r.logger.Debug("tool answered with an error", "tool_name", call.ToolName, "error", res.Err)
	}

	if err := r.send(r.b.ToolResult(call.ToolCallID, res.Content)...); err != nil {
		return ret, err
	}
	for _, src := range res.Sources {
		r.state.sources = append(r.state.sources, src)
		if err := r.send(r.b.Source(src)...); err != nil {
			return ret, err
		}
	}
	return ret, nil
}

// persist appends the user turn and the assistant turn to both transcripts.
func (r *run) persist(ctx context.Context, conv *store.Conversation, newMessages []transcript.ModelMessage) error {
	ui, err := r.o.converter.ToUIMessages(newMessages[1:])
	if err != nil {
		return fmt.Errorf("building ui turn: %w", err)
	}
	now := time.Now().UTC()
	assistant := transcript.UIMessage{ID: r.state.messageID, Role: transcript.RoleAssistant, CreatedAt: &now}
	if len(ui) > 0 {
		assistant.Parts = ui[0].Parts
		assistant.Content = ui[0].Content
	}
	for _, src := range r.state.sources {
		assistant.Parts = append(assistant.Parts, transcript.SourceUIPart{Source: transcript.Source{
			SourceType: "url", ID: src.ID, URL: src.URL, Title: src.Title,
		}})
	}

	user := r.turn.user
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt == nil {
		ts := r.turn.prompt.Timestamp
		user.CreatedAt = &ts
	}

	err = r.o.store.AppendTurn(ctx, conv.ID, &store.Turn{
		UIMessages:    []transcript.UIMessage{user, assistant},
		ModelMessages: newMessages,
		Usage: &store.TurnUsage{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			MessageID:      r.state.messageID,
			Model:          r.model,
			InputTokens:    r.usage.InputTokens,
			OutputTokens:   r.usage.OutputTokens,
			Requests:       r.usage.Requests,
		},
	})
	if err != nil {
		return fmt.Errorf("persisting turn: %w", err)
	}
	return nil
}

// send emits events, marking delivery failures as emitError.
func (r *run) send(events ...protocol.Event) error {
	for _, e := range events {
		if err := r.emit(e); err != nil {
			return &emitError{err: err}
		}
	}
	return nil
}

func (r *run) sendRaw(events []protocol.Event) error {
	for _, e := range events {
		if err := r.emit(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) wireUsage() protocol.Usage {
	return wireUsage(r.usage)
}

func wireUsage(u transcript.Usage) protocol.Usage {
	return protocol.Usage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens}
}

func finishReason(s string) protocol.FinishReason {
	if s == "" {
		return protocol.FinishStop
	}
	return protocol.FinishReason(s)
}

// conversation loads the conversation, creating it on its first turn.
func (o *Orchestrator) conversation(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := o.store.GetConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	conv = &store.Conversation{ID: id}
	err = o.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicateConversation) {
		return o.store.GetConversation(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	o.logger.Info("created conversation", "conversation_id", id)
	return conv, nil
}

// inlineImages replaces stored image references with their bytes so the
// model can see them. Unreadable images stay as references.
func (o *Orchestrator) inlineImages(ctx context.Context, p transcript.UserPromptPart) transcript.UserPromptPart {
	if o.blobs == nil {
		return p
	}
	out := p
	out.Content = slices.Clone(p.Content)
	for i, item := range out.Content {
		if item.Kind != transcript.ContentImage || item.Source != transcript.SourceStorage {
			continue
		}
		data, err := o.blobs.Read(ctx, item.Key)
		if err != nil {
			o.logger.Warn("could not inline image", "key", item.Key, "error", err)
			continue
		}
		item.Source = transcript.SourceInline
		item.Data = data
		out.Content[i] = item
	}
	return out
}

// SliceText splits s into pieces of at most k runes.
func SliceText(s string, k int) []string {
	if k <= 0 {
		k = 1
	}
	runes := []rune(s)
	pieces := make([]string, 0, (len(runes)+k-1)/k)
	for len(runes) > 0 {
		end := min(k, len(runes))
		pieces = append(pieces, string(runes[:end]))
		runes = runes[end:]
	}
	return pieces
}
