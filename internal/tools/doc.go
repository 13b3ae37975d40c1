// ABOUTME: Package tools holds the in-process tools the agent can call.
// ABOUTME: A registry dispatches calls by name and turns failures into error payloads.

// Package tools implements web search, document search, summarization and
// translation as in-process tools.
//
// Tool failures never abort a run: Registry.Execute reports them to the model
// as {"error": "..."} results so it can retry or explain.
package tools
