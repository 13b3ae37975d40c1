// ABOUTME: Package llm talks to chat completion providers.
// ABOUTME: Provider responses are normalized before they reach the agent.

// Package llm defines the Model interface the agent drives and an
// OpenAI-compatible implementation of it.
//
// Providers disagree on response shapes: content may be a string or an array
// of parts, reasoning arrives under different keys, and tool arguments may be
// a JSON string or an object. Every response passes through the normalize
// functions in this package so the rest of the system sees one shape.
package llm
