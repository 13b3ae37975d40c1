// Package agent runs one chat turn from the user's message to the terminal
// finish event.
//
// # Overview
//
// The Orchestrator validates a turn, ingests its attachments, configures the
// tools the model may call, drives the model/tool loop, persists both
// transcripts and emits protocol events along the way:
//
//	orch := agent.New(agent.Options{Store: s, Models: models, Tools: reg, ...})
//	turn, err := orch.Prepare(req)      // input errors surface here as ErrInvalidTurn
//	pipe := stream.Start(ctx, 16, func(ctx context.Context, emit func(protocol.Event) error) error {
//	    return orch.Run(ctx, turn, emit)
//	})
//
// # Turn Lifecycle
//
//  1. Prepare: the last message must come from the user with exactly one
//     text part. Files split into images and documents; audio and video are
//     rejected.
//  2. Ingest: documents go through the ingestion pipeline, which emits one
//     document_parsing call/result pair. Failure ends the run with
//     finish(error) before the model is called.
//  3. Configure: tools come from request capabilities, feature flags and
//     whether the conversation owns a retrieval collection.
//  4. Iterate: model request, then tool execution, until a response carries
//     no tool calls or the step limit is reached.
//  5. Finalize: both transcripts and the turn's usage are appended in one
//     store call, a title may be generated in the background, and finish is
//     emitted.
//
// # Streaming
//
// Streaming models forward deltas as they arrive. For models that cannot
// stream, text is sliced into fixed-size rune pieces with a short delay
// between them so clients see the same event shape either way.
//
// # Cancellation
//
// A stop request arms a per-conversation flag. The run polls it through a
// cancel.Token at every suspension point of the loop and unconditionally
// before persisting. A canceled run persists nothing and ends with
// finish(other). The flag is cleared when a run starts and when it ends.
package agent
