// Package protocol encodes agent run output for streaming HTTP clients.
//
// # Overview
//
// An agent run produces a sequence of Event values. Each event belongs to
// exactly one wire version and knows its own payload; encoders turn events of
// their version into wire text and silently drop everything else.
//
// # Versions
//
// Two wire versions are supported:
//
//   - VersionDataStream: one framed line per event, "<tag>:<json>\n"
//     (for example `0:"Hello"` for a text delta or `d:{...}` for finish).
//   - VersionUIStream: server-sent events, "data: {\"type\":...}\n\n",
//     terminated by "data: [DONE]\n\n".
//
// A third mode, ModeText, reuses data stream events but writes only the
// literal text of text deltas.
//
// # Builders
//
// The agent never constructs variants directly. It asks a per-run Builder
// for the events that represent a semantic fragment (a text delta, a tool
// call, a finish) and the builder returns the right variants for its version,
// including any framing the version needs (text-start/text-end blocks,
// start-step/finish-step pairs).
//
// # Decoding
//
// DecodeFrame splits a framed line back into tag and JSON body. ParseFrame goes
// one step further and returns the typed data stream event; the CLI uses it to
// render a live response.
package protocol
