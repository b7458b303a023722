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

const readingColumns = `
	id, meter_id, user_id, reading_value, reading_date, reading_type,
	device_id, latitude, longitude, notes, sync_status, client_id, photos,
	created_at, updated_at
`

func scanReading(row pgx.Row) (*db.Reading, error) {
	var reading db.Reading
	err := row.Scan(
		&reading.ID,
		&reading.MeterID,
		&reading.UserID,
		&reading.ReadingValue,
		&reading.ReadingDate,
		&reading.ReadingType,
		&reading.DeviceID,
		&reading.Latitude,
		&reading.Longitude,
		&reading.Notes,
		&reading.SyncStatus,
		&reading.ClientID,
		&reading.Photos,
		&reading.CreatedAt,
		&reading.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// ReadingByClientID looks up the reading holding the given idempotency
// key. Returns (nil, nil) when no reading carries the key.
func (r *Repository) ReadingByClientID(ctx context.Context, clientID string) (*db.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE client_id = $1`

	reading, err := scanReading(r.q.QueryRow(ctx, query, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reading by client_id: %w", err)
	}
	return reading, nil
}

// ReadingExists reports whether a reading is already recorded for the
// meter at the given observation time.
func (r *Repository) ReadingExists(ctx context.Context, meterID uuid.UUID, readingDate time.Time) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM readings WHERE meter_id = $1 AND reading_date = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, meterID, readingDate).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to probe existing reading: %w", err)
	}
	return exists, nil
}

// InsertReading inserts a new reading
func (r *Repository) InsertReading(ctx context.Context, reading *db.Reading) error {
	query := `
		INSERT INTO readings (
			id, meter_id, user_id, reading_value, reading_date, reading_type,
			device_id, latitude, longitude, notes, sync_status, client_id, photos,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`

	now := time.Now().UTC()
	reading.CreatedAt = now
	reading.UpdatedAt = now

	_, err := r.q.Exec(ctx, query,
		reading.ID,
		reading.MeterID,
		reading.UserID,
		reading.ReadingValue,
		reading.ReadingDate,
		reading.ReadingType,
		reading.DeviceID,
		reading.Latitude,
		reading.Longitude,
		reading.Notes,
		reading.SyncStatus,
		reading.ClientID,
		reading.Photos,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// UpdateReading overwrites the mutable fields of an existing reading.
// The client_id idempotency key is never rewritten.
func (r *Repository) UpdateReading(ctx context.Context, reading *db.Reading) error {
	query := `
		UPDATE readings
		SET meter_id = $2, reading_value = $3, reading_date = $4,
			reading_type = $5, device_id = $6, latitude = $7, longitude = $8,
			notes = $9, sync_status = $10, photos = $11, updated_at = $12
		WHERE id = $1
	`

	now := time.Now().UTC()
	reading.UpdatedAt = now

	_, err := r.q.Exec(ctx, query,
		reading.ID,
		reading.MeterID,
		reading.ReadingValue,
		reading.ReadingDate,
		reading.ReadingType,
		reading.DeviceID,
		reading.Latitude,
		reading.Longitude,
		reading.Notes,
		reading.SyncStatus,
		reading.Photos,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to update reading: %w", err)
	}
	return nil
}

// ReadingExistsByID reports whether the reading with the given id exists.
func (r *Repository) ReadingExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM readings WHERE id = $1)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to probe reading by id: %w", err)
	}
	return exists, nil
}
