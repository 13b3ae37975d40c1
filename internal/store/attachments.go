// ABOUTME: SQLite implementation of attachment records and their scan status
// ABOUTME: The agent reads these; the external scanning pipeline updates status

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateAttachment inserts an attachment record.
func (s *SQLiteStore) CreateAttachment(ctx context.Context, a *Attachment) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.Status == "" {
		a.Status = AttachmentPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, conversation_id, storage_key, name, content_type, size, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ConversationID, a.StorageKey, a.Name, a.ContentType, a.Size, string(a.Status), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

// GetAttachment retrieves an attachment by ID.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	return s.scanAttachment(s.db.QueryRowContext(ctx, attachmentSelect+` WHERE id = ?`, id))
}

// GetAttachmentByKey retrieves an attachment by its blob storage key.
func (s *SQLiteStore) GetAttachmentByKey(ctx context.Context, storageKey string) (*Attachment, error) {
	return s.scanAttachment(s.db.QueryRowContext(ctx, attachmentSelect+` WHERE storage_key = ?`, storageKey))
}

// UpdateAttachmentStatus records a scan outcome.
func (s *SQLiteStore) UpdateAttachmentStatus(ctx context.Context, id string, status AttachmentStatus) error {
	result, err := s.db.ExecContext(ctx, `UPDATE attachments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating attachment status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const attachmentSelect = `
	SELECT id, conversation_id, storage_key, name, content_type, size, status, created_at
	FROM attachments`

func (s *SQLiteStore) scanAttachment(row *sql.Row) (*Attachment, error) {
	var (
		a            Attachment
		status       string
		createdAtStr string
	)
	err := row.Scan(&a.ID, &a.ConversationID, &a.StorageKey, &a.Name, &a.ContentType, &a.Size, &status, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attachment: %w", err)
	}
	a.Status = AttachmentStatus(status)
	if a.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
