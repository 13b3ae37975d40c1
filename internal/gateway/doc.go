// Package gateway wires the parley server together and serves its HTTP API.
//
// # Overview
//
// The Gateway owns the store, blob store, retrieval index, model registry,
// tool registry, stop flags and the agent orchestrator. New builds all of
// them from a config.Config; Run serves HTTP until its context ends.
//
// # HTTP API
//
//   - POST /api/chat - run one turn, streamed in the requested protocol
//   - POST /api/chat/{id}/stop - ask a running turn to stop (204)
//   - GET /api/conversations/{id} - title and UI transcript
//   - POST /api/conversations/{id}/title - rename and lock the title
//   - POST /api/conversations/{id}/attachments - upload a file (multipart "file")
//   - GET /api/conversations/{id}/usage - per-turn token usage
//   - POST /api/messages/{id}/score - rate an assistant message
//   - GET /api/stats/usage - aggregated usage
//   - GET {storage.public_prefix}{key} - stored blobs
//   - GET /health, GET /health/ready - liveness and readiness
//
// The /api routes require a bearer token when auth.jwt_secret is set.
//
// # Streaming
//
// POST /api/chat validates the turn before any bytes are written, so a bad
// request gets a 400 JSON error. After that the orchestrator runs as a
// stream.Pipe producer wrapped in stream.KeepAlive, and each event goes
// through the protocol encoder for the requested mode:
//
//	data   framed lines, "0:\"Hel\"\n"
//	sse    server-sent events ending with "data: [DONE]"
//	text   bare assistant text
//
// Every stream ends with a finish event, including failed and stopped turns.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	err = gw.Run(ctx)
//
// Run shuts the HTTP server down gracefully, waits for background title
// generation and closes the store.
package gateway
