package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/db"
)

// Payload is the closed union of outbox payload variants, keyed by the
// entry's entity_type tag.
type Payload interface {
	EntityType() string
}

// ReadingPayload carries a deferred reading creation.
type ReadingPayload struct {
	MeterID      uuid.UUID `json:"meter_id"`
	UserID       uuid.UUID `json:"user_id"`
	ReadingValue float64   `json:"reading_value"`
	ReadingDate  time.Time `json:"reading_date"`
	ReadingType  string    `json:"reading_type,omitempty"`
	ClientID     *string   `json:"client_id,omitempty"`
	DeviceID     *string   `json:"device_id,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	Photos       []string  `json:"photos,omitempty"`
}

// EntityType implements Payload.
func (ReadingPayload) EntityType() string { return db.EntityTypeReading }

// PhotoPayload carries a deferred photo attachment. ParentType names
// the entity the photo belongs to (reading or meter).
type PhotoPayload struct {
	FilePath    string    `json:"file_path"`
	ParentType  string    `json:"entity_type"`
	ParentID    uuid.UUID `json:"entity_id"`
	MimeType    *string   `json:"mime_type,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// EntityType implements Payload.
func (PhotoPayload) EntityType() string { return db.EntityTypePhoto }

// payloadRegistry maps entity_type tags to payload constructors.
var payloadRegistry = map[string]func() Payload{
	db.EntityTypeReading: func() Payload { return &ReadingPayload{} },
	db.EntityTypePhoto:   func() Payload { return &PhotoPayload{} },
}

// DecodePayload decodes raw JSON into the payload variant for the given
// entity type. Unknown types and malformed JSON are permanent errors.
func DecodePayload(entityType string, raw []byte) (Payload, error) {
	construct, ok := payloadRegistry[entityType]
	if !ok {
		return nil, Permanent(fmt.Errorf("unsupported entity type: %s", entityType))
	}

	payload := construct()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, Permanent(fmt.Errorf("malformed %s payload: %w", entityType, err))
	}
	return payload, nil
}
