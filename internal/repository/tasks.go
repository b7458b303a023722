package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/meter-sync-worker/internal/db"
)

// InsertTask persists a new task progress record. An existing record
// with the same id is left untouched so re-delivered job messages do
// not reset a running task.
func (r *Repository) InsertTask(ctx context.Context, t *db.TaskProgress) error {
	query := `
		INSERT INTO task_progress (
			id, task_name, user_id, status, params, progress, result,
			error_message, started_at, completed_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (id) DO NOTHING
	`

	progress, err := json.Marshal(t.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal task progress: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err = r.q.Exec(ctx, query,
		t.ID, t.TaskName, t.UserID, t.Status, t.Params, progress, t.Result,
		t.ErrorMessage, t.StartedAt, t.CompletedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// TaskByID fetches a task record. Returns (nil, nil) when absent.
func (r *Repository) TaskByID(ctx context.Context, id string) (*db.TaskProgress, error) {
	query := `
		SELECT id, task_name, user_id, status, params, progress, result,
			error_message, started_at, completed_at, created_at, updated_at
		FROM task_progress
		WHERE id = $1
	`

	var (
		t        db.TaskProgress
		progress []byte
	)
	err := r.q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.TaskName, &t.UserID, &t.Status, &t.Params, &progress,
		&t.Result, &t.ErrorMessage, &t.StartedAt, &t.CompletedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &t.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task progress: %w", err)
		}
	}
	return &t, nil
}

// UpdateTask writes back the mutable state of a task record
func (r *Repository) UpdateTask(ctx context.Context, t *db.TaskProgress) error {
	query := `
		UPDATE task_progress
		SET status = $2, progress = $3, result = $4, error_message = $5,
			started_at = $6, completed_at = $7, updated_at = $8
		WHERE id = $1
	`

	progress, err := json.Marshal(t.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal task progress: %w", err)
	}

	now := time.Now().UTC()
	t.UpdatedAt = now

	_, err = r.q.Exec(ctx, query,
		t.ID, t.Status, progress, t.Result, t.ErrorMessage,
		t.StartedAt, t.CompletedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// DeleteTerminalTasksBefore removes completed/failed/cancelled task
// records finished before the cutoff.
func (r *Repository) DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM task_progress
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1
	`

	tag, err := r.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}
