package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Handler applies one due outbox entry to the store. Implementations
// must be idempotent: the dispatcher delivers at least once.
type Handler interface {
	Handle(ctx context.Context, entry *db.OutboxEntry) error
}

// HandlerStore is the slice of the repository the entity handlers need.
type HandlerStore interface {
	MeterByID(ctx context.Context, id uuid.UUID) (*db.Meter, error)
	ReadingByClientID(ctx context.Context, clientID string) (*db.Reading, error)
	ReadingExists(ctx context.Context, meterID uuid.UUID, readingDate time.Time) (bool, error)
	ReadingExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	InsertReading(ctx context.Context, reading *db.Reading) error
	AdvanceMeterLastReading(ctx context.Context, meterID uuid.UUID, readingDate time.Time) error
	PhotoExists(ctx context.Context, entityType string, entityID uuid.UUID, filePath string) (bool, error)
	InsertPhoto(ctx context.Context, photo *db.Photo) error
}

// ReadingHandler creates deferred readings. A missing meter is a
// retryable fault: the meter may arrive through a later import.
type ReadingHandler struct {
	store  HandlerStore
	logger *zap.Logger
}

// NewReadingHandler creates a new reading outbox handler
func NewReadingHandler(store HandlerStore, logger *zap.Logger) *ReadingHandler {
	return &ReadingHandler{store: store, logger: logger}
}

// Handle implements Handler.
func (h *ReadingHandler) Handle(ctx context.Context, entry *db.OutboxEntry) error {
	decoded, err := DecodePayload(entry.EntityType, entry.Payload)
	if err != nil {
		return err
	}
	payload, ok := decoded.(*ReadingPayload)
	if !ok {
		return Permanent(fmt.Errorf("entry %s decoded to unexpected payload type", entry.ID))
	}

	if payload.MeterID == uuid.Nil {
		return Permanent(fmt.Errorf("reading payload missing meter_id"))
	}
	if payload.ReadingValue <= 0 {
		return Permanent(fmt.Errorf("reading payload has non-positive value %v", payload.ReadingValue))
	}
	if payload.ReadingDate.IsZero() {
		return Permanent(fmt.Errorf("reading payload missing reading_date"))
	}

	// Idempotency: the same entry may be dispatched more than once.
	if payload.ClientID != nil && *payload.ClientID != "" {
		existing, err := h.store.ReadingByClientID(ctx, *payload.ClientID)
		if err != nil {
			return err
		}
		if existing != nil {
			h.logger.Warn("reading already exists for client_id, skipping",
				zap.String("client_id", *payload.ClientID))
			return nil
		}
	}

	meter, err := h.store.MeterByID(ctx, payload.MeterID)
	if err != nil {
		return err
	}
	if meter == nil {
		return fmt.Errorf("meter %s not found", payload.MeterID)
	}

	exists, err := h.store.ReadingExists(ctx, payload.MeterID, payload.ReadingDate)
	if err != nil {
		return err
	}
	if exists {
		h.logger.Warn("reading already exists for meter at this date, skipping",
			zap.String("meter_id", payload.MeterID.String()),
			zap.Time("reading_date", payload.ReadingDate),
		)
		return nil
	}

	reading := &db.Reading{
		ID:           entry.EntityID,
		MeterID:      payload.MeterID,
		UserID:       payload.UserID,
		ReadingValue: payload.ReadingValue,
		ReadingDate:  payload.ReadingDate,
		ReadingType:  readingType(payload.ReadingType),
		DeviceID:     payload.DeviceID,
		Latitude:     payload.Latitude,
		Longitude:    payload.Longitude,
		Notes:        payload.Notes,
		SyncStatus:   db.SyncStatusSynced,
		ClientID:     payload.ClientID,
		Photos:       payload.Photos,
	}
	if err := h.store.InsertReading(ctx, reading); err != nil {
		return err
	}

	if meter.LastReadingDate == nil || payload.ReadingDate.After(*meter.LastReadingDate) {
		if err := h.store.AdvanceMeterLastReading(ctx, meter.ID, payload.ReadingDate); err != nil {
			return err
		}
	}

	h.logger.Info("synced reading from outbox",
		zap.String("reading_id", reading.ID.String()),
		zap.String("meter_id", payload.MeterID.String()),
	)
	return nil
}

func readingType(t string) string {
	if t == "" {
		return "manual"
	}
	return t
}

// PhotoHandler attaches deferred photos to their parent reading or
// meter. A missing parent is retryable: the parent may itself still be
// in the outbox.
type PhotoHandler struct {
	store  HandlerStore
	logger *zap.Logger
}

// NewPhotoHandler creates a new photo outbox handler
func NewPhotoHandler(store HandlerStore, logger *zap.Logger) *PhotoHandler {
	return &PhotoHandler{store: store, logger: logger}
}

// Handle implements Handler.
func (h *PhotoHandler) Handle(ctx context.Context, entry *db.OutboxEntry) error {
	decoded, err := DecodePayload(entry.EntityType, entry.Payload)
	if err != nil {
		return err
	}
	payload, ok := decoded.(*PhotoPayload)
	if !ok {
		return Permanent(fmt.Errorf("entry %s decoded to unexpected payload type", entry.ID))
	}

	if payload.FilePath == "" {
		return Permanent(fmt.Errorf("photo payload missing file_path"))
	}
	if payload.ParentID == uuid.Nil {
		return Permanent(fmt.Errorf("photo payload missing entity_id"))
	}

	switch payload.ParentType {
	case db.EntityTypeReading:
		exists, err := h.store.ReadingExistsByID(ctx, payload.ParentID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("reading %s not found", payload.ParentID)
		}
	case "meter":
		meter, err := h.store.MeterByID(ctx, payload.ParentID)
		if err != nil {
			return err
		}
		if meter == nil {
			return fmt.Errorf("meter %s not found", payload.ParentID)
		}
	default:
		return Permanent(fmt.Errorf("unsupported photo parent type: %s", payload.ParentType))
	}

	exists, err := h.store.PhotoExists(ctx, payload.ParentType, payload.ParentID, payload.FilePath)
	if err != nil {
		return err
	}
	if exists {
		h.logger.Warn("photo already attached, skipping",
			zap.String("entity_type", payload.ParentType),
			zap.String("entity_id", payload.ParentID.String()),
		)
		return nil
	}

	photo := &db.Photo{
		ID:          entry.EntityID,
		FilePath:    payload.FilePath,
		EntityType:  payload.ParentType,
		EntityID:    payload.ParentID,
		MimeType:    payload.MimeType,
		Description: payload.Description,
	}
	if err := h.store.InsertPhoto(ctx, photo); err != nil {
		return err
	}

	h.logger.Info("synced photo from outbox",
		zap.String("photo_id", photo.ID.String()),
		zap.String("entity_id", payload.ParentID.String()),
	)
	return nil
}
