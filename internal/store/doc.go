// Package store provides persistent storage for parley using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// specialized interfaces:
//
//   - ConversationStore: conversations with their UI and structured transcripts
//   - AttachmentStore: uploaded file records and their scan status
//   - UsageStore: per-turn token usage and statistics
//   - ScoreStore: user ratings of assistant messages
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation for tests.
//
// # Transcripts
//
// Both transcripts are stored as JSON documents on the conversation row and
// are only ever extended through AppendTurn, which reads, appends and writes
// inside one transaction and adds the turn's usage in the same commit. A run
// that fails or is canceled never calls AppendTurn, so the two transcripts
// always hold the same number of turns.
//
// # Collections
//
// A conversation owns at most one retrieval collection. BindCollection is a
// compare-and-set: the first caller wins and every caller gets the winning id.
//
// # Timestamps
//
// Timestamps are stored as RFC3339 strings in UTC.
package store
