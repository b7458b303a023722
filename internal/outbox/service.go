package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Storage is the slice of the repository backing the outbox queue.
type Storage interface {
	InsertOutboxEntry(ctx context.Context, e *db.OutboxEntry) error
	OutboxEntryByID(ctx context.Context, id uuid.UUID) (*db.OutboxEntry, error)
	UpdateOutboxEntry(ctx context.Context, e *db.OutboxEntry) error
	DueOutboxEntries(ctx context.Context, now time.Time, limit int, entityType string) ([]db.OutboxEntry, error)
	DeleteTerminalOutboxBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service is the durable queue of pending entity mutations with retry
// bookkeeping.
type Service struct {
	store      Storage
	backoff    Backoff
	maxRetries int
	retention  time.Duration
	logger     *zap.Logger
}

// NewService creates a new outbox service
func NewService(store Storage, backoff Backoff, maxRetries, retentionDays int, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		backoff:    backoff,
		maxRetries: maxRetries,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		logger:     logger,
	}
}

// Enqueue creates a pending entry scheduled for immediate dispatch.
// entityID is the id the target record will be created under, which
// makes redispatch after a crash idempotent.
func (s *Service) Enqueue(ctx context.Context, entityID uuid.UUID, operation string, payload Payload) (*db.OutboxEntry, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	entry := &db.OutboxEntry{
		ID:          uuid.New(),
		EntityType:  payload.EntityType(),
		EntityID:    entityID,
		Operation:   operation,
		Payload:     body,
		MaxRetries:  s.maxRetries,
		Status:      db.OutboxStatusPending,
		ScheduledAt: time.Now().UTC(),
	}

	if err := s.store.InsertOutboxEntry(ctx, entry); err != nil {
		return nil, err
	}

	s.logger.Info("added to outbox",
		zap.String("entity_type", entry.EntityType),
		zap.String("entity_id", entry.EntityID.String()),
		zap.String("operation", entry.Operation),
	)
	return entry, nil
}

// FetchDue returns pending entries eligible for dispatch, oldest-due
// first. entityType narrows the fetch when non-empty.
func (s *Service) FetchDue(ctx context.Context, limit int, entityType string) ([]db.OutboxEntry, error) {
	return s.store.DueOutboxEntries(ctx, time.Now().UTC(), limit, entityType)
}

// MarkProcessed transitions an entry to the terminal processed state.
func (s *Service) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	entry, err := s.store.OutboxEntryByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	now := time.Now().UTC()
	entry.Status = db.OutboxStatusProcessed
	entry.ProcessedAt = &now

	if err := s.store.UpdateOutboxEntry(ctx, entry); err != nil {
		return err
	}
	s.logger.Info("outbox entry marked as processed", zap.String("id", id.String()))
	return nil
}

// MarkFailed records a failed dispatch attempt. The entry stays pending
// with its next attempt pushed out by bounded exponential backoff until
// the retry ceiling is reached, after which it is terminally failed.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	entry, err := s.store.OutboxEntryByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	entry.RetryCount++
	entry.ErrorMessage = &errorMessage

	if entry.RetryCount >= entry.MaxRetries {
		entry.Status = db.OutboxStatusFailed
		s.logger.Error("outbox entry permanently failed",
			zap.String("id", id.String()),
			zap.Int("retry_count", entry.RetryCount),
			zap.String("error", errorMessage),
		)
	} else {
		entry.ScheduledAt = time.Now().UTC().Add(s.backoff.Delay(entry.RetryCount))
		s.logger.Info("outbox entry scheduled for retry",
			zap.String("id", id.String()),
			zap.Int("retry_count", entry.RetryCount),
			zap.Time("scheduled_at", entry.ScheduledAt),
		)
	}

	return s.store.UpdateOutboxEntry(ctx, entry)
}

// MarkFailedPermanent transitions an entry straight to the terminal
// failed state without consuming the remaining retry budget.
func (s *Service) MarkFailedPermanent(ctx context.Context, id uuid.UUID, errorMessage string) error {
	entry, err := s.store.OutboxEntryByID(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	entry.Status = db.OutboxStatusFailed
	entry.ErrorMessage = &errorMessage

	if err := s.store.UpdateOutboxEntry(ctx, entry); err != nil {
		return err
	}
	s.logger.Error("outbox entry failed permanently (non-retryable)",
		zap.String("id", id.String()),
		zap.String("error", errorMessage),
	)
	return nil
}

// Cleanup garbage-collects terminal entries older than the retention
// window. Returns the number of deleted entries.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteTerminalOutboxBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("cleaned up old outbox entries", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}
