package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Store is the slice of the repository the coordinator mutates. All
// calls made within one SyncBatch run against the same transaction.
type Store interface {
	ReadingByClientID(ctx context.Context, clientID string) (*db.Reading, error)
	InsertReading(ctx context.Context, reading *db.Reading) error
	UpdateReading(ctx context.Context, reading *db.Reading) error
	MeterByID(ctx context.Context, id uuid.UUID) (*db.Meter, error)
	AdvanceMeterLastReading(ctx context.Context, meterID uuid.UUID, readingDate time.Time) error
}

// UnitOfWork runs fn against a transaction-scoped Store. Either every
// mutation fn makes is durable, or none is.
type UnitOfWork func(ctx context.Context, fn func(store Store) error) error

// Candidate is one client-submitted reading in a sync batch.
type Candidate struct {
	MeterID      uuid.UUID
	ReadingValue float64
	ReadingDate  time.Time
	ReadingType  string
	DeviceID     *string
	Latitude     *float64
	Longitude    *float64
	Notes        *string
	ClientID     *string
	Photos       []string
}

// Conflict describes one candidate that could not be synchronized.
type Conflict struct {
	ClientID string `json:"client_id,omitempty"`
	MeterID  string `json:"meter_id,omitempty"`
	Reason   string `json:"reason"`
}

// Accepted identifies a candidate that made it into the store, with the
// reading id it ended up under.
type Accepted struct {
	ReadingID uuid.UUID
	Candidate Candidate
}

// Result aggregates the outcome of one sync batch.
type Result struct {
	Synced       int
	Failed       int
	Conflicts    []Conflict
	Accepted     []Accepted
	UnknownMeter []Candidate
}

// Coordinator reconciles batches of client-submitted readings against
// server state under at-most-once / last-write-wins semantics.
type Coordinator struct {
	uow    UnitOfWork
	logger *zap.Logger
}

// NewCoordinator creates a new sync coordinator
func NewCoordinator(uow UnitOfWork, logger *zap.Logger) *Coordinator {
	return &Coordinator{uow: uow, logger: logger}
}

// SyncBatch processes an ordered batch of candidates for one submitting
// user and device. All accepted mutations commit as a single unit; a
// single candidate's failure is recorded as a conflict and does not
// block the rest of the batch.
func (c *Coordinator) SyncBatch(ctx context.Context, candidates []Candidate, userID uuid.UUID, deviceID string) (*Result, error) {
	result := &Result{}

	err := c.uow(ctx, func(store Store) error {
		for _, candidate := range candidates {
			if err := c.processCandidate(ctx, store, candidate, userID, deviceID, result); err != nil {
				c.logger.Error("sync error for reading",
					zap.Error(err),
					zap.String("meter_id", candidate.MeterID.String()),
				)
				result.Failed++
				result.Conflicts = append(result.Conflicts, Conflict{
					ClientID: stringValue(candidate.ClientID),
					MeterID:  candidate.MeterID.String(),
					Reason:   err.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Coordinator) processCandidate(
	ctx context.Context,
	store Store,
	candidate Candidate,
	userID uuid.UUID,
	deviceID string,
	result *Result,
) error {
	// Idempotency key check: a second submission with the same
	// client_id is never duplicated, only resolved.
	if candidate.ClientID != nil && *candidate.ClientID != "" {
		existing, err := store.ReadingByClientID(ctx, *candidate.ClientID)
		if err != nil {
			return err
		}
		if existing != nil {
			if Resolve(candidate.ReadingDate, existing.ReadingDate) == IncomingWins {
				applyCandidate(existing, candidate)
				if err := store.UpdateReading(ctx, existing); err != nil {
					return err
				}
				result.Synced++
				result.Accepted = append(result.Accepted, Accepted{ReadingID: existing.ID, Candidate: candidate})
				return nil
			}

			result.Failed++
			result.Conflicts = append(result.Conflicts, Conflict{
				ClientID: *candidate.ClientID,
				Reason:   "Newer reading exists on server",
			})
			return nil
		}
	}

	meter, err := store.MeterByID(ctx, candidate.MeterID)
	if err != nil {
		return err
	}
	if meter == nil {
		result.Failed++
		result.Conflicts = append(result.Conflicts, Conflict{
			MeterID: candidate.MeterID.String(),
			Reason:  "Meter not found",
		})
		result.UnknownMeter = append(result.UnknownMeter, candidate)
		return nil
	}

	reading := &db.Reading{
		ID:           uuid.New(),
		MeterID:      candidate.MeterID,
		UserID:       userID,
		ReadingValue: candidate.ReadingValue,
		ReadingDate:  candidate.ReadingDate,
		ReadingType:  readingTypeOrDefault(candidate.ReadingType),
		DeviceID:     deviceIDOrCandidate(deviceID, candidate.DeviceID),
		Latitude:     candidate.Latitude,
		Longitude:    candidate.Longitude,
		Notes:        candidate.Notes,
		SyncStatus:   db.SyncStatusSynced,
		ClientID:     candidate.ClientID,
		Photos:       candidate.Photos,
	}
	if err := store.InsertReading(ctx, reading); err != nil {
		return err
	}

	if meter.LastReadingDate == nil || candidate.ReadingDate.After(*meter.LastReadingDate) {
		if err := store.AdvanceMeterLastReading(ctx, meter.ID, candidate.ReadingDate); err != nil {
			return err
		}
	}

	result.Synced++
	result.Accepted = append(result.Accepted, Accepted{ReadingID: reading.ID, Candidate: candidate})
	return nil
}

// applyCandidate overwrites all mutable fields of an existing reading,
// keeping the idempotency key itself.
func applyCandidate(existing *db.Reading, candidate Candidate) {
	existing.MeterID = candidate.MeterID
	existing.ReadingValue = candidate.ReadingValue
	existing.ReadingDate = candidate.ReadingDate
	existing.ReadingType = readingTypeOrDefault(candidate.ReadingType)
	existing.DeviceID = candidate.DeviceID
	existing.Latitude = candidate.Latitude
	existing.Longitude = candidate.Longitude
	existing.Notes = candidate.Notes
	existing.Photos = candidate.Photos
	existing.SyncStatus = db.SyncStatusSynced
}

func readingTypeOrDefault(readingType string) string {
	if readingType == "" {
		return "manual"
	}
	return readingType
}

func deviceIDOrCandidate(batchDeviceID string, candidateDeviceID *string) *string {
	if candidateDeviceID != nil && *candidateDeviceID != "" {
		return candidateDeviceID
	}
	if batchDeviceID == "" {
		return nil
	}
	return &batchDeviceID
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
