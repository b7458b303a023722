package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/septivank/meter-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Store is the slice of the repository backing task progress records.
type Store interface {
	InsertTask(ctx context.Context, t *db.TaskProgress) error
	TaskByID(ctx context.Context, id string) (*db.TaskProgress, error)
	UpdateTask(ctx context.Context, t *db.TaskProgress) error
	DeleteTerminalTasksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker records progress and state of long-running asynchronous
// operations for external polling.
type Tracker struct {
	store  Store
	logger *zap.Logger
}

// NewTracker creates a new task progress tracker
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// Percent computes bounded progress percent.
func Percent(current, total int) int {
	if total < 1 {
		total = 1
	}
	p := current * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}

// Start registers a new pending task. Re-registration of an existing
// task id is a no-op so redelivered job messages do not reset state.
func (t *Tracker) Start(ctx context.Context, taskID, name, userID string, params []byte) error {
	now := time.Now().UTC()
	record := &db.TaskProgress{
		ID:        taskID,
		TaskName:  name,
		UserID:    userID,
		Status:    db.TaskStatusPending,
		Params:    params,
		StartedAt: &now,
	}
	if err := t.store.InsertTask(ctx, record); err != nil {
		return fmt.Errorf("failed to start task %s: %w", taskID, err)
	}
	return nil
}

// Update records progress counters. It is idempotent, safe to call
// repeatedly, and never fails into the caller: persistence problems are
// logged and swallowed so a running task is never killed by its own
// progress reporting.
func (t *Tracker) Update(ctx context.Context, taskID string, current, total, success, failed int) {
	record, err := t.store.TaskByID(ctx, taskID)
	if err != nil || record == nil {
		t.logger.Warn("failed to load task for progress update",
			zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if record.Terminal() {
		return
	}

	record.Status = db.TaskStatusProcessing
	record.Progress = db.TaskProgressCounters{
		Current: current,
		Total:   total,
		Success: success,
		Failed:  failed,
		Percent: Percent(current, total),
	}

	if err := t.store.UpdateTask(ctx, record); err != nil {
		t.logger.Warn("failed to persist task progress",
			zap.String("task_id", taskID), zap.Error(err))
	}
}

// Complete transitions a task to the terminal completed state with its
// result payload. Completing an already-terminal task is a no-op.
func (t *Tracker) Complete(ctx context.Context, taskID string, result any) error {
	record, err := t.store.TaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if record.Terminal() {
		return nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}

	now := time.Now().UTC()
	record.Status = db.TaskStatusCompleted
	record.Result = body
	record.CompletedAt = &now
	record.Progress.Percent = 100

	return t.store.UpdateTask(ctx, record)
}

// Fail transitions a task to the terminal failed state.
func (t *Tracker) Fail(ctx context.Context, taskID, errorMessage string) error {
	return t.finish(ctx, taskID, db.TaskStatusFailed, &errorMessage)
}

// Cancel transitions a task to the terminal cancelled state. A running
// task observes this through IsCancelled between batches.
func (t *Tracker) Cancel(ctx context.Context, taskID string) error {
	return t.finish(ctx, taskID, db.TaskStatusCancelled, nil)
}

func (t *Tracker) finish(ctx context.Context, taskID, status string, errorMessage *string) error {
	record, err := t.store.TaskByID(ctx, taskID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if record.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	record.Status = status
	record.ErrorMessage = errorMessage
	record.CompletedAt = &now

	return t.store.UpdateTask(ctx, record)
}

// IsCancelled reports whether the task was cancelled. Lookup failures
// read as not-cancelled so a flaky store never aborts a healthy task.
func (t *Tracker) IsCancelled(ctx context.Context, taskID string) bool {
	record, err := t.store.TaskByID(ctx, taskID)
	if err != nil || record == nil {
		return false
	}
	return record.Status == db.TaskStatusCancelled
}

// Get returns the current task record for polling.
func (t *Tracker) Get(ctx context.Context, taskID string) (*db.TaskProgress, error) {
	return t.store.TaskByID(ctx, taskID)
}

// CleanupTerminal removes terminal task records finished before the
// retention window.
func (t *Tracker) CleanupTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	deleted, err := t.store.DeleteTerminalTasksBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		t.logger.Info("cleaned up old task records", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
