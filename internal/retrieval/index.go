// ABOUTME: Retrieval backend contract and its SQLite FTS5 implementation.
// ABOUTME: Collections group a conversation's documents; search returns ranked snippets.

package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Document is a parsed document stored in a collection.
type Document struct {
	ID       string
	Name     string
	Markdown string
}

// Snippet is one ranked search hit.
type Snippet struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Heading      string  `json:"heading,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// SearchResult is the ranked output of Search.
type SearchResult struct {
	Snippets []Snippet
}

// Index is the retrieval backend.
type Index interface {
	CreateCollection(ctx context.Context, name string) (string, error)
	// AddDocument parses doc into chunks and stores it. Re-adding an id replaces it.
	AddDocument(ctx context.Context, collectionID string, doc Document) error
	// DeleteDocument removes a document and its chunks. Missing documents are not an error.
	DeleteDocument(ctx context.Context, collectionID, documentID string) error
	// DeleteCollection removes a collection with all of its documents.
	DeleteCollection(ctx context.Context, collectionID string) error
	Search(ctx context.Context, collectionID, query string, limit int) (*SearchResult, error)
	GetDocument(ctx context.Context, collectionID, documentID string) (*Document, error)
	ListDocuments(ctx context.Context, collectionID string) ([]Document, error)
}

// SQLiteIndex stores collections in SQLite and searches them with FTS5.
type SQLiteIndex struct {
	db        *sql.DB
	chunkSize int
	logger    *slog.Logger
}

var _ Index = (*SQLiteIndex)(nil)

// NewSQLiteIndex creates the index tables on db.
func NewSQLiteIndex(db *sql.DB, chunkSize int, logger *slog.Logger) (*SQLiteIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &SQLiteIndex{db: db, chunkSize: chunkSize, logger: logger.With("component", "retrieval")}
	if err := idx.createSchema(); err != nil {
		return nil, fmt.Errorf("creating retrieval schema: %w", err)
	}
	return idx, nil
}

func (x *SQLiteIndex) createSchema() error {
	_, err := x.db.Exec(`
		CREATE TABLE IF NOT EXISTS retrieval_collections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS retrieval_documents (
			collection_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			markdown TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection_id, id),
			FOREIGN KEY (collection_id) REFERENCES retrieval_collections(id)
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS retrieval_chunks USING fts5(
			collection_id UNINDEXED,
			document_id UNINDEXED,
			heading,
			body,
			tokenize = 'porter unicode61'
		);
	`)
	return err
}

func (x *SQLiteIndex) CreateCollection(ctx context.Context, name string) (string, error) {
	id := uuid.New().String()
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO retrieval_collections (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("inserting collection: %w", err)
	}
	x.logger.Debug("created collection", "id", id, "name", name)
	return id, nil
}

func (x *SQLiteIndex) AddDocument(ctx context.Context, collectionID string, doc Document) error {
	chunks := ChunkMarkdown(doc.Markdown, x.chunkSize)

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM retrieval_collections WHERE id = ?`, collectionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("collection %s: %w", collectionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM retrieval_chunks WHERE collection_id = ? AND document_id = ?`, collectionID, doc.ID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO retrieval_documents (collection_id, id, name, markdown, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection_id, id) DO UPDATE SET name = excluded.name, markdown = excluded.markdown
	`, collectionID, doc.ID, doc.Name, doc.Markdown, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO retrieval_chunks (collection_id, document_id, heading, body) VALUES (?, ?, ?, ?)`,
			collectionID, doc.ID, c.Heading, c.Body); err != nil {
			return fmt.Errorf("storing chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document: %w", err)
	}
	x.logger.Info("indexed document", "collection_id", collectionID, "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

func (x *SQLiteIndex) DeleteDocument(ctx context.Context, collectionID, documentID string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM retrieval_chunks WHERE collection_id = ? AND document_id = ?`, collectionID, documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM retrieval_documents WHERE collection_id = ? AND id = ?`, collectionID, documentID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	x.logger.Info("removed document", "collection_id", collectionID, "document_id", documentID)
	return nil
}

func (x *SQLiteIndex) DeleteCollection(ctx context.Context, collectionID string) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM retrieval_chunks WHERE collection_id = ?`,
		`DELETE FROM retrieval_documents WHERE collection_id = ?`,
		`DELETE FROM retrieval_collections WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, collectionID); err != nil {
			return fmt.Errorf("deleting collection: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	x.logger.Info("removed collection", "collection_id", collectionID)
	return nil
}

func (x *SQLiteIndex) Search(ctx context.Context, collectionID, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := queryTerms(query)
	result := &SearchResult{}
	if len(terms) == 0 {
		return result, nil
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT retrieval_chunks.document_id, d.name, retrieval_chunks.heading,
		       snippet(retrieval_chunks, 3, '', '', '…', 48),
		       bm25(retrieval_chunks)
		FROM retrieval_chunks
		JOIN retrieval_documents d
		  ON d.collection_id = retrieval_chunks.collection_id AND d.id = retrieval_chunks.document_id
		WHERE retrieval_chunks MATCH ? AND retrieval_chunks.collection_id = ?
		ORDER BY bm25(retrieval_chunks)
		LIMIT ?
	`, matchExpression(terms), collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching collection: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var s Snippet
		var rank float64
		if err := rows.Scan(&s.DocumentID, &s.DocumentName, &s.Heading, &s.Text, &rank); err != nil {
			return nil, fmt.Errorf("scanning snippet: %w", err)
		}
		// bm25 is lower-is-better and negative; expose a higher-is-better score.
		s.Score = -rank
		result.Snippets = append(result.Snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snippets: %w", err)
	}
	return result, nil
}

func (x *SQLiteIndex) GetDocument(ctx context.Context, collectionID, documentID string) (*Document, error) {
	var d Document
	err := x.db.QueryRowContext(ctx,
		`SELECT id, name, markdown FROM retrieval_documents WHERE collection_id = ? AND id = ?`,
		collectionID, documentID,
	).Scan(&d.ID, &d.Name, &d.Markdown)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return &d, nil
}

func (x *SQLiteIndex) ListDocuments(ctx context.Context, collectionID string) ([]Document, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, name FROM retrieval_documents WHERE collection_id = ? ORDER BY created_at, id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// queryTerms splits free text into bare word terms so user input never reaches
// the FTS5 query syntax.
func queryTerms(q string) []string {
	return strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchExpression(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}
