// ABOUTME: SQLite implementation for per-turn token usage tracking
// ABOUTME: Stores and aggregates LLM token consumption for analytics

package store

import (
	"context"
	"database/sql"
	"fmt"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUsage(ctx context.Context, db execer, usage *TurnUsage) error {
	query := `
		INSERT INTO turn_usage (
			id, conversation_id, message_id, model,
			input_tokens, output_tokens, requests, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		usage.ID,
		usage.ConversationID,
		usage.MessageID,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		usage.Requests,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}
	return nil
}

// GetConversationUsage retrieves all usage records for a conversation.
func (s *SQLiteStore) GetConversationUsage(ctx context.Context, conversationID string) ([]*TurnUsage, error) {
	query := `
		SELECT id, conversation_id, message_id, model,
		       input_tokens, output_tokens, requests, created_at
		FROM turn_usage
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*TurnUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COALESCE(SUM(requests), 0) as request_count,
			COUNT(*) as turn_count
		FROM turn_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.ConversationID != nil {
		query += " AND conversation_id = ?"
		args = append(args, *filter.ConversationID)
	}
	if filter.Model != nil {
		query += " AND model = ?"
		args = append(args, *filter.Model)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.RequestCount,
		&stats.TurnCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	stats.TotalTokens = stats.TotalInput + stats.TotalOutput

	return &stats, nil
}

// scanUsage scans a single usage row into a TurnUsage struct.
func scanUsage(rows *sql.Rows) (*TurnUsage, error) {
	var usage TurnUsage
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.ConversationID,
		&usage.MessageID,
		&usage.Model,
		&usage.InputTokens,
		&usage.OutputTokens,
		&usage.Requests,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}

	return &usage, nil
}

// Ensure SQLiteStore implements UsageStore interface.
var _ UsageStore = (*SQLiteStore)(nil)
