package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/meter-sync-worker/internal/config"
	"github.com/septivank/meter-sync-worker/internal/importer"
	"github.com/septivank/meter-sync-worker/internal/logging"
	"github.com/septivank/meter-sync-worker/internal/mq"
	"github.com/septivank/meter-sync-worker/internal/outbox"
	"github.com/septivank/meter-sync-worker/internal/sync"
	"github.com/septivank/meter-sync-worker/internal/task"
	"github.com/septivank/meter-sync-worker/internal/validator"
	"go.uber.org/zap"
)

// EventPublisher publishes worker events after commit.
type EventPublisher interface {
	PublishReadingSynced(ctx context.Context, event mq.ReadingSyncedEvent, routingKey string) error
	PublishSyncCompleted(ctx context.Context, event mq.SyncCompletedEvent, routingKey string) error
	PublishImportCompleted(ctx context.Context, event mq.ImportCompletedEvent, routingKey string) error
}

// SyncMessage is the reading-sync request consumed from the sync queue.
type SyncMessage struct {
	RequestID  string             `json:"request_id"`
	UserID     uuid.UUID          `json:"user_id"`
	DeviceID   string             `json:"device_id"`
	ReceivedAt time.Time          `json:"received_at"`
	Readings   []ReadingCandidate `json:"readings"`
}

// ReadingCandidate is one submitted reading in a sync request.
type ReadingCandidate struct {
	MeterID      uuid.UUID `json:"meter_id"`
	ReadingValue float64   `json:"reading_value"`
	ReadingDate  time.Time `json:"reading_date"`
	ReadingType  string    `json:"reading_type,omitempty"`
	DeviceID     *string   `json:"device_id,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Notes        *string   `json:"notes,omitempty"`
	ClientID     *string   `json:"client_id,omitempty"`
	Photos       []string  `json:"photos"`
}

// ImportMessage is the meter-import job consumed from the import queue.
type ImportMessage struct {
	TaskID   string `json:"task_id"`
	UserID   string `json:"user_id"`
	FileName string `json:"file_name"`
	FileB64  string `json:"file_content_b64"`
}

// ProcessorService routes consumed messages into the sync coordinator
// and the bulk importer, and feeds the outbox and event exchange.
type ProcessorService struct {
	coordinator *sync.Coordinator
	validator   *validator.Validator
	outbox      *outbox.Service
	importer    *importer.Importer
	tracker     *task.Tracker
	publisher   EventPublisher
	cfg         *config.Config
	logger      *zap.Logger
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	coordinator *sync.Coordinator,
	validator *validator.Validator,
	outboxSvc *outbox.Service,
	imp *importer.Importer,
	tracker *task.Tracker,
	publisher EventPublisher,
	cfg *config.Config,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		coordinator: coordinator,
		validator:   validator,
		outbox:      outboxSvc,
		importer:    imp,
		tracker:     tracker,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
	}
}

// ProcessSyncMessage processes one reading-sync batch message.
func (s *ProcessorService) ProcessSyncMessage(ctx context.Context, body []byte) error {
	var msg SyncMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal sync message: %w", err)
	}

	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)
	reqLogger.Info("processing sync batch",
		zap.String("device_id", msg.DeviceID),
		zap.Int("readings_count", len(msg.Readings)),
	)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	// Per-row validation failures become conflicts; they never abort
	// the batch.
	var (
		candidates []sync.Candidate
		conflicts  []mq.SyncConflict
		invalid    int
	)
	for _, r := range msg.Readings {
		candidate := toCandidate(r)
		if result := s.validator.ValidateCandidate(candidate, receivedAt); !result.IsValid {
			invalid++
			conflicts = append(conflicts, mq.SyncConflict{
				ClientID: stringValue(r.ClientID),
				MeterID:  r.MeterID.String(),
				Reason:   result.Reason,
			})
			continue
		}
		candidates = append(candidates, candidate)
	}

	result, err := s.coordinator.SyncBatch(ctx, candidates, msg.UserID, msg.DeviceID)
	if err != nil {
		reqLogger.Error("sync batch failed, rolled back", zap.Error(err))
		return fmt.Errorf("failed to sync batch: %w", err)
	}

	for _, c := range result.Conflicts {
		conflicts = append(conflicts, mq.SyncConflict{ClientID: c.ClientID, MeterID: c.MeterID, Reason: c.Reason})
	}

	// Candidates rejected for an unknown meter stay on the books: the
	// meter may arrive through a later import, so the delivery engine
	// keeps trying while the response above reports the conflict.
	for _, candidate := range result.UnknownMeter {
		s.enqueueDeferredReading(ctx, candidate, msg.UserID, reqLogger)
	}

	// Photo attachments propagate asynchronously after the batch commit.
	for _, accepted := range result.Accepted {
		s.enqueuePhotos(ctx, accepted, reqLogger)
	}

	for _, accepted := range result.Accepted {
		event := mq.ReadingSyncedEvent{
			RequestID:    msg.RequestID,
			ReadingID:    accepted.ReadingID.String(),
			MeterID:      accepted.Candidate.MeterID.String(),
			ClientID:     stringValue(accepted.Candidate.ClientID),
			ReadingValue: accepted.Candidate.ReadingValue,
			ReadingDate:  accepted.Candidate.ReadingDate.Format(time.RFC3339),
			SyncStatus:   "synced",
		}
		if err := s.publisher.PublishReadingSynced(ctx, event, s.cfg.RabbitMQ.SyncedRoutingKey); err != nil {
			// Log error but don't fail the entire message processing
			reqLogger.Error("failed to publish reading synced event",
				zap.Error(err),
				zap.String("reading_id", event.ReadingID),
			)
		}
	}

	completed := mq.SyncCompletedEvent{
		RequestID: msg.RequestID,
		DeviceID:  msg.DeviceID,
		Synced:    result.Synced,
		Failed:    result.Failed + invalid,
		Conflicts: conflicts,
	}
	if err := s.publisher.PublishSyncCompleted(ctx, completed, s.cfg.RabbitMQ.SyncDoneRoutingKey); err != nil {
		reqLogger.Error("failed to publish sync completed event", zap.Error(err))
	}

	reqLogger.Info("sync batch processed",
		zap.Int("synced", completed.Synced),
		zap.Int("failed", completed.Failed),
		zap.Int("conflicts", len(completed.Conflicts)),
	)
	return nil
}

func (s *ProcessorService) enqueueDeferredReading(ctx context.Context, candidate sync.Candidate, userID uuid.UUID, logger *zap.Logger) {
	payload := outbox.ReadingPayload{
		MeterID:      candidate.MeterID,
		UserID:       userID,
		ReadingValue: candidate.ReadingValue,
		ReadingDate:  candidate.ReadingDate,
		ReadingType:  candidate.ReadingType,
		ClientID:     candidate.ClientID,
		DeviceID:     candidate.DeviceID,
		Latitude:     candidate.Latitude,
		Longitude:    candidate.Longitude,
		Notes:        candidate.Notes,
		Photos:       candidate.Photos,
	}
	if _, err := s.outbox.Enqueue(ctx, uuid.New(), "create", payload); err != nil {
		logger.Error("failed to enqueue deferred reading",
			zap.Error(err),
			zap.String("meter_id", candidate.MeterID.String()),
		)
	}
}

func (s *ProcessorService) enqueuePhotos(ctx context.Context, accepted sync.Accepted, logger *zap.Logger) {
	for _, url := range accepted.Candidate.Photos {
		payload := outbox.PhotoPayload{
			FilePath:   url,
			ParentType: "reading",
			ParentID:   accepted.ReadingID,
		}
		if _, err := s.outbox.Enqueue(ctx, uuid.New(), "create", payload); err != nil {
			logger.Error("failed to enqueue photo",
				zap.Error(err),
				zap.String("reading_id", accepted.ReadingID.String()),
			)
		}
	}
}

// ProcessImportMessage processes one meter-import job message. Fatal
// import errors are recorded on the task, which is the source of truth
// for the submitting side; the message itself is always acknowledged.
func (s *ProcessorService) ProcessImportMessage(ctx context.Context, body []byte) error {
	var msg ImportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal import message: %w", err)
	}

	if msg.TaskID == "" {
		msg.TaskID = uuid.NewString()
	}
	taskLogger := logging.WithTaskID(s.logger, msg.TaskID)
	taskLogger.Info("processing import job", zap.String("file", msg.FileName))

	params, _ := json.Marshal(map[string]string{"file_name": msg.FileName})
	if err := s.tracker.Start(ctx, msg.TaskID, "import_meters_from_file", msg.UserID, params); err != nil {
		return err
	}

	raw, err := base64.StdEncoding.DecodeString(msg.FileB64)
	if err != nil {
		return s.finishImport(ctx, msg, nil, fmt.Errorf("invalid file content encoding: %w", err), taskLogger)
	}

	progress := func(ctx context.Context, current, total, success, failed int) {
		s.tracker.Update(ctx, msg.TaskID, current, total, success, failed)
	}
	cancelled := func(ctx context.Context) bool {
		return s.tracker.IsCancelled(ctx, msg.TaskID)
	}

	summary, err := s.importer.Run(ctx, bytes.NewReader(raw), msg.FileName, progress, cancelled)
	return s.finishImport(ctx, msg, summary, err, taskLogger)
}

func (s *ProcessorService) finishImport(ctx context.Context, msg ImportMessage, summary *importer.Summary, runErr error, logger *zap.Logger) error {
	event := mq.ImportCompletedEvent{TaskID: msg.TaskID, File: msg.FileName}
	if summary != nil {
		event.Success = summary.Success
		event.Failed = summary.Failed
		event.Total = summary.Total
	}

	switch {
	case runErr == nil:
		if err := s.tracker.Complete(ctx, msg.TaskID, summary); err != nil {
			logger.Error("failed to complete import task", zap.Error(err))
		}
		event.Status = "completed"
	case errors.Is(runErr, importer.ErrCancelled):
		if err := s.tracker.Cancel(ctx, msg.TaskID); err != nil {
			logger.Error("failed to mark import task cancelled", zap.Error(err))
		}
		event.Status = "cancelled"
		logger.Info("import cancelled, committed batches kept")
	default:
		if err := s.tracker.Fail(ctx, msg.TaskID, runErr.Error()); err != nil {
			logger.Error("failed to mark import task failed", zap.Error(err))
		}
		event.Status = "failed"
		logger.Error("import failed", zap.Error(runErr))
	}

	if err := s.publisher.PublishImportCompleted(ctx, event, s.cfg.RabbitMQ.ImportedRoutingKey); err != nil {
		logger.Error("failed to publish import completed event", zap.Error(err))
	}
	return nil
}

// ImportFile is the blocking import variant. It shares the row-parsing
// and batching logic with the asynchronous path but reports no task
// progress.
func (s *ProcessorService) ImportFile(ctx context.Context, r io.Reader, fileName string) (*importer.Summary, error) {
	return s.importer.Run(ctx, r, fileName, nil, nil)
}

func toCandidate(r ReadingCandidate) sync.Candidate {
	return sync.Candidate{
		MeterID:      r.MeterID,
		ReadingValue: r.ReadingValue,
		ReadingDate:  r.ReadingDate,
		ReadingType:  r.ReadingType,
		DeviceID:     r.DeviceID,
		Latitude:     r.Latitude,
		Longitude:    r.Longitude,
		Notes:        r.Notes,
		ClientID:     r.ClientID,
		Photos:       r.Photos,
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
