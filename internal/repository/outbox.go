package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/meter-sync-worker/internal/db"
)

const outboxColumns = `
	id, entity_type, entity_id, operation, payload, retry_count,
	max_retries, status, error_message, scheduled_at, processed_at, created_at
`

func scanOutboxEntry(row pgx.Row) (*db.OutboxEntry, error) {
	var e db.OutboxEntry
	err := row.Scan(
		&e.ID,
		&e.EntityType,
		&e.EntityID,
		&e.Operation,
		&e.Payload,
		&e.RetryCount,
		&e.MaxRetries,
		&e.Status,
		&e.ErrorMessage,
		&e.ScheduledAt,
		&e.ProcessedAt,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// InsertOutboxEntry persists a new outbox entry
func (r *Repository) InsertOutboxEntry(ctx context.Context, e *db.OutboxEntry) error {
	query := `
		INSERT INTO outbox (
			id, entity_type, entity_id, operation, payload, retry_count,
			max_retries, status, error_message, scheduled_at, processed_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	now := time.Now().UTC()
	e.CreatedAt = now

	_, err := r.q.Exec(ctx, query,
		e.ID, e.EntityType, e.EntityID, e.Operation, e.Payload, e.RetryCount,
		e.MaxRetries, e.Status, e.ErrorMessage, e.ScheduledAt, e.ProcessedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}

// OutboxEntryByID fetches a single entry. Returns (nil, nil) when absent.
func (r *Repository) OutboxEntryByID(ctx context.Context, id uuid.UUID) (*db.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox WHERE id = $1`

	entry, err := scanOutboxEntry(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox entry: %w", err)
	}
	return entry, nil
}

// UpdateOutboxEntry writes back the retry bookkeeping of an entry
func (r *Repository) UpdateOutboxEntry(ctx context.Context, e *db.OutboxEntry) error {
	query := `
		UPDATE outbox
		SET retry_count = $2, status = $3, error_message = $4,
			scheduled_at = $5, processed_at = $6
		WHERE id = $1
	`

	_, err := r.q.Exec(ctx, query,
		e.ID, e.RetryCount, e.Status, e.ErrorMessage, e.ScheduledAt, e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update outbox entry: %w", err)
	}
	return nil
}

// DueOutboxEntries returns pending entries eligible for dispatch,
// oldest-due first. entityType narrows the result when non-empty.
func (r *Repository) DueOutboxEntries(ctx context.Context, now time.Time, limit int, entityType string) ([]db.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + `
		FROM outbox
		WHERE status = 'pending' AND retry_count < max_retries AND scheduled_at <= $1
	`
	args := []any{now}

	if entityType != "" {
		query += ` AND entity_type = $2`
		args = append(args, entityType)
	}
	query += fmt.Sprintf(` ORDER BY scheduled_at ASC LIMIT %d`, limit)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query due outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []db.OutboxEntry
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// DeleteTerminalOutboxBefore garbage-collects processed/failed entries
// created before the cutoff. Returns the number of deleted rows.
func (r *Repository) DeleteTerminalOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE status IN ('processed', 'failed') AND created_at < $1
	`

	tag, err := r.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old outbox entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
