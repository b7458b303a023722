package db

import (
	"time"

	"github.com/google/uuid"
)

// Reading sync statuses
const (
	SyncStatusSynced     = "synced"
	SyncStatusConflicted = "conflicted"
	SyncStatusFailed     = "failed"
)

// Outbox entry statuses
const (
	OutboxStatusPending   = "pending"
	OutboxStatusProcessed = "processed"
	OutboxStatusFailed    = "failed"
)

// Outbox entity types (closed set; anything else is a permanent dispatch error)
const (
	EntityTypeReading = "reading"
	EntityTypePhoto   = "photo"
)

// Outbox operations
const (
	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Task statuses
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Meter represents a utility meter in the database
type Meter struct {
	ID               uuid.UUID
	MeterIDCode      string
	MeterNumber      *string
	Type             *string
	LocationAddress  *string
	ClientName       *string
	PrevReadingValue *float64
	LastReadingDate  *time.Time
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Reading represents a single field-collected meter observation
type Reading struct {
	ID           uuid.UUID
	MeterID      uuid.UUID
	UserID       uuid.UUID
	ReadingValue float64
	ReadingDate  time.Time
	ReadingType  string
	DeviceID     *string
	Latitude     *float64
	Longitude    *float64
	Notes        *string
	SyncStatus   string
	ClientID     *string
	Photos       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Photo represents a stored photo attachment for a reading or meter
type Photo struct {
	ID          uuid.UUID
	FilePath    string
	EntityType  string
	EntityID    uuid.UUID
	MimeType    *string
	Description *string
	CreatedAt   time.Time
}

// OutboxEntry represents one pending entity mutation awaiting propagation
type OutboxEntry struct {
	ID           uuid.UUID
	EntityType   string
	EntityID     uuid.UUID
	Operation    string
	Payload      []byte
	RetryCount   int
	MaxRetries   int
	Status       string
	ErrorMessage *string
	ScheduledAt  time.Time
	ProcessedAt  *time.Time
	CreatedAt    time.Time
}

// Terminal reports whether the entry will never be dispatched again.
func (e *OutboxEntry) Terminal() bool {
	return e.Status == OutboxStatusProcessed || e.Status == OutboxStatusFailed
}

// TaskProgressCounters holds the numeric progress fields stored as JSON
// on a task record.
type TaskProgressCounters struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Percent int `json:"percent"`
}

// TaskProgress records the state of a long-running asynchronous operation
// (sync, import) for external polling.
type TaskProgress struct {
	ID           string
	TaskName     string
	UserID       string
	Status       string
	Params       []byte
	Progress     TaskProgressCounters
	Result       []byte
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the task reached a final state.
func (t *TaskProgress) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
