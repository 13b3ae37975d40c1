// ABOUTME: Package ingest turns a turn's attachments into searchable documents.
// ABOUTME: Covers ownership checks, adaptive PDF parsing, batched OCR and indexing.

// Package ingest materializes the documents attached to one user turn into the
// conversation's retrieval collection.
//
// The pipeline is all-or-nothing from the caller's point of view: a bad
// reference or a parser failure fails the whole batch, while OCR failures on
// individual page batches degrade to blank pages. Progress is reported as a
// single document_parsing tool call and tool result pair.
package ingest
