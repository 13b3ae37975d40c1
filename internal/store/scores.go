// ABOUTME: SQLite implementation of assistant message ratings
// ABOUTME: A rating is accepted only for messages produced by a persisted turn

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveScore records or replaces the rating of an assistant message.
func (s *SQLiteStore) SaveScore(ctx context.Context, score *Score) error {
	if !score.Rating.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRating, score.Rating)
	}

	var conversationID string
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id FROM turn_usage WHERE message_id = ? LIMIT 1`, score.MessageID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up message: %w", err)
	}
	score.ConversationID = conversationID
	if score.CreatedAt.IsZero() {
		score.CreatedAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO message_scores (message_id, conversation_id, rating, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET rating = excluded.rating, created_at = excluded.created_at
	`, score.MessageID, score.ConversationID, string(score.Rating), formatTime(score.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving score: %w", err)
	}

	s.logger.Debug("saved score", "message_id", score.MessageID, "rating", score.Rating)
	return nil
}

// GetScore returns the rating of a message.
func (s *SQLiteStore) GetScore(ctx context.Context, messageID string) (*Score, error) {
	var (
		score        Score
		rating       string
		createdAtStr string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, conversation_id, rating, created_at FROM message_scores WHERE message_id = ?`, messageID,
	).Scan(&score.MessageID, &score.ConversationID, &rating, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying score: %w", err)
	}
	score.Rating = Rating(rating)
	if score.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return nil, err
	}
	return &score, nil
}
