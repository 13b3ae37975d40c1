// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation and attachment persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/parley/internal/transcript"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// AppendTurn is a read-modify-write transaction; one connection keeps it serialized.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// DB exposes the connection so other SQLite-backed components can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			title_locked INTEGER NOT NULL DEFAULT 0,
			collection_id TEXT,
			ui_transcript TEXT NOT NULL DEFAULT '[]',
			model_transcript TEXT NOT NULL DEFAULT '[]',
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			storage_key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (status IN ('pending', 'analyzing', 'ready', 'suspicious'))
		);

		CREATE INDEX IF NOT EXISTS idx_attachments_conversation
			ON attachments(conversation_id);

		CREATE TABLE IF NOT EXISTS turn_usage (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			requests INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turn_usage_conversation
			ON turn_usage(conversation_id);

		CREATE INDEX IF NOT EXISTS idx_turn_usage_message
			ON turn_usage(message_id);

		CREATE TABLE IF NOT EXISTS message_scores (
			message_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			rating TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),

			CHECK (rating IN ('positive', 'negative', 'neutral'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "turn_usage",
			column: "requests",
			apply:  `ALTER TABLE turn_usage ADD COLUMN requests INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "attachments",
			column: "name",
			apply:  `ALTER TABLE attachments ADD COLUMN name TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicateConversation if the id is taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	ui, model, err := encodeTranscripts(conv.UIMessages, conv.ModelMessages)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO conversations (
			id, title, title_locked, collection_id, ui_transcript, model_transcript,
			prompt_tokens, completion_tokens, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Title,
		conv.TitleLocked,
		nullString(conv.CollectionID),
		ui,
		model,
		conv.PromptTokens,
		conv.CompletionTokens,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, title, title_locked, collection_id, ui_transcript, model_transcript,
		       prompt_tokens, completion_tokens, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	var (
		conv                     Conversation
		collectionID             sql.NullString
		ui, model                string
		createdAtStr, updatedStr string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.Title,
		&conv.TitleLocked,
		&collectionID,
		&ui,
		&model,
		&conv.PromptTokens,
		&conv.CompletionTokens,
		&createdAtStr,
		&updatedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.CollectionID = collectionID.String
	if conv.UIMessages, conv.ModelMessages, err = decodeTranscripts(ui, model); err != nil {
		return nil, err
	}
	if conv.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime("updated_at", updatedStr); err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendTurn appends a turn to both transcripts and records its usage in one transaction.
func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, turn *Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ui, model string
	err = tx.QueryRowContext(ctx,
		`SELECT ui_transcript, model_transcript FROM conversations WHERE id = ?`, id,
	).Scan(&ui, &model)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading transcripts: %w", err)
	}

	uiMsgs, modelMsgs, err := decodeTranscripts(ui, model)
	if err != nil {
		return err
	}
	uiMsgs = append(uiMsgs, turn.UIMessages...)
	modelMsgs = append(modelMsgs, turn.ModelMessages...)

	newUI, newModel, err := encodeTranscripts(uiMsgs, modelMsgs)
	if err != nil {
		return err
	}

	var inTokens, outTokens int
	if turn.Usage != nil {
		inTokens, outTokens = turn.Usage.InputTokens, turn.Usage.OutputTokens
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET ui_transcript = ?, model_transcript = ?,
		    prompt_tokens = prompt_tokens + ?, completion_tokens = completion_tokens + ?,
		    updated_at = ?
		WHERE id = ?
	`, newUI, newModel, inTokens, outTokens, formatTime(now), id)
	if err != nil {
		return fmt.Errorf("updating transcripts: %w", err)
	}

	if turn.Usage != nil {
		u := *turn.Usage
		u.ConversationID = id
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if err := insertUsage(ctx, tx, &u); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("appended turn",
		"conversation_id", id,
		"ui_messages", len(turn.UIMessages),
		"model_messages", len(turn.ModelMessages),
	)
	return nil
}

// BindCollection binds collectionID unless another collection is already bound.
func (s *SQLiteStore) BindCollection(ctx context.Context, id, collectionID string) (string, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET collection_id = ?, updated_at = ?
		WHERE id = ? AND (collection_id IS NULL OR collection_id = '')
	`, collectionID, formatTime(time.Now()), id)
	if err != nil {
		return "", fmt.Errorf("binding collection: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 1 {
		return collectionID, nil
	}

	var bound sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT collection_id FROM conversations WHERE id = ?`, id).Scan(&bound)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading collection: %w", err)
	}
	return bound.String, nil
}

// SetTitle stores a generated title unless the title is locked.
func (s *SQLiteStore) SetTitle(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ? AND title_locked = 0`, title, id)
	if err != nil {
		return fmt.Errorf("setting title: %w", err)
	}
	return nil
}

// RenameConversation stores a user-chosen title and locks it.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, title_locked = 1, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTranscripts(ui []transcript.UIMessage, model []transcript.ModelMessage) (string, string, error) {
	if ui == nil {
		ui = []transcript.UIMessage{}
	}
	uiJSON, err := marshalJSON(ui)
	if err != nil {
		return "", "", fmt.Errorf("encoding ui transcript: %w", err)
	}
	modelJSON, err := transcript.MarshalMessages(model)
	if err != nil {
		return "", "", fmt.Errorf("encoding model transcript: %w", err)
	}
	return uiJSON, string(modelJSON), nil
}

func decodeTranscripts(ui, model string) ([]transcript.UIMessage, []transcript.ModelMessage, error) {
	var uiMsgs []transcript.UIMessage
	if err := unmarshalJSON(ui, &uiMsgs); err != nil {
		return nil, nil, fmt.Errorf("decoding ui transcript: %w", err)
	}
	modelMsgs, err := transcript.UnmarshalMessages([]byte(model))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding model transcript: %w", err)
	}
	return uiMsgs, modelMsgs, nil
}
