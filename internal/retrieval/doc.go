// ABOUTME: Package retrieval indexes parsed documents and searches them.
// ABOUTME: Backed by SQLite FTS5 with markdown-aware chunking.

// Package retrieval stores each conversation's documents in a collection and
// answers document_search tool calls with ranked snippets.
package retrieval
