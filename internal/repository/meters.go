package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/meter-sync-worker/internal/db"
)

// MeterByID fetches a meter by id. Returns (nil, nil) when absent.
func (r *Repository) MeterByID(ctx context.Context, id uuid.UUID) (*db.Meter, error) {
	query := `
		SELECT id, meter_id_code, meter_number, type, location_address,
			client_name, prev_reading_value, last_reading_date, status,
			created_at, updated_at
		FROM meters
		WHERE id = $1
	`

	var meter db.Meter
	err := r.q.QueryRow(ctx, query, id).Scan(
		&meter.ID,
		&meter.MeterIDCode,
		&meter.MeterNumber,
		&meter.Type,
		&meter.LocationAddress,
		&meter.ClientName,
		&meter.PrevReadingValue,
		&meter.LastReadingDate,
		&meter.Status,
		&meter.CreatedAt,
		&meter.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter: %w", err)
	}
	return &meter, nil
}

// AdvanceMeterLastReading moves last_reading_date forward to readingDate.
// The guard keeps the column monotone even under concurrent writers.
func (r *Repository) AdvanceMeterLastReading(ctx context.Context, meterID uuid.UUID, readingDate time.Time) error {
	query := `
		UPDATE meters
		SET last_reading_date = $2, updated_at = $3
		WHERE id = $1 AND (last_reading_date IS NULL OR last_reading_date < $2)
	`

	_, err := r.q.Exec(ctx, query, meterID, readingDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance meter last_reading_date: %w", err)
	}
	return nil
}

// InsertMetersIgnoreDuplicates bulk-inserts meters, silently skipping
// rows whose meter_number or meter_id_code already exists. Returns the
// number of rows actually inserted.
func (r *Repository) InsertMetersIgnoreDuplicates(ctx context.Context, meters []db.Meter) (int64, error) {
	if len(meters) == 0 {
		return 0, nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		INSERT INTO meters (
			id, meter_id_code, meter_number, type, location_address,
			client_name, prev_reading_value, last_reading_date, status,
			created_at, updated_at
		) VALUES `)

	now := time.Now().UTC()
	for i, m := range meters {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+10))
		id := m.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		args = append(args,
			id, m.MeterIDCode, m.MeterNumber, m.Type, m.LocationAddress,
			m.ClientName, m.PrevReadingValue, m.LastReadingDate, m.Status, now,
		)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	tag, err := r.q.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert meters: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertMeterIgnoreDuplicate inserts a single meter, skipping it when
// its unique keys are already taken. Returns whether a row was written.
func (r *Repository) InsertMeterIgnoreDuplicate(ctx context.Context, m db.Meter) (bool, error) {
	query := `
		INSERT INTO meters (
			id, meter_id_code, meter_number, type, location_address,
			client_name, prev_reading_value, last_reading_date, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT DO NOTHING
	`

	id := m.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	tag, err := r.q.Exec(ctx, query,
		id, m.MeterIDCode, m.MeterNumber, m.Type, m.LocationAddress,
		m.ClientName, m.PrevReadingValue, m.LastReadingDate, m.Status,
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert meter: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
