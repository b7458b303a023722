package outbox

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/septivank/meter-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Janitor is a periodic maintenance hook run by the dispatcher during
// its cleanup window (task retention, report counters).
type Janitor func(ctx context.Context)

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Service         *Service
	Handlers        map[string]Handler
	PollInterval    time.Duration
	BatchSize       int
	Workers         int
	CleanupInterval time.Duration
	Janitors        []Janitor
	Logger          *zap.Logger
}

// Dispatcher periodically drains due outbox entries and routes each to
// the handler registered for its entity type.
type Dispatcher struct {
	service         *Service
	handlers        map[string]Handler
	pollInterval    time.Duration
	batchSize       int
	workers         int
	cleanupInterval time.Duration
	janitors        []Janitor
	logger          *zap.Logger
	lastCleanup     time.Time
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		service:         cfg.Service,
		handlers:        cfg.Handlers,
		pollInterval:    cfg.PollInterval,
		batchSize:       cfg.BatchSize,
		workers:         workers,
		cleanupInterval: cfg.CleanupInterval,
		janitors:        cfg.Janitors,
		logger:          cfg.Logger,
	}
}

// Run polls on a fixed interval until ctx is cancelled. A cycle that
// overruns the interval delays the next cycle rather than overlapping it.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("outbox dispatcher started",
		zap.Duration("poll_interval", d.pollInterval),
		zap.Int("batch_size", d.batchSize),
		zap.Int("workers", d.workers),
	)

	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-timer.C:
			d.RunCycle(ctx)
			timer.Reset(d.pollInterval)
		}
	}
}

// RunCycle fetches one bounded batch of due entries and dispatches it.
// Returns the number of processed and failed entries.
func (d *Dispatcher) RunCycle(ctx context.Context) (processed, failed int) {
	d.maybeCleanup(ctx)

	entries, err := d.service.FetchDue(ctx, d.batchSize, "")
	if err != nil {
		d.logger.Error("failed to fetch due outbox entries", zap.Error(err))
		return 0, 0
	}
	if len(entries) == 0 {
		return 0, 0
	}

	d.logger.Info("processing outbox entries", zap.Int("count", len(entries)))

	// Shard by entity_id so two entries for the same entity never run
	// concurrently; within a shard the oldest-due order is preserved.
	shards := make([][]db.OutboxEntry, d.workers)
	for _, entry := range entries {
		idx := shardIndex(entry.EntityID.String(), d.workers)
		shards[idx] = append(shards[idx], entry)
	}

	var (
		wg          sync.WaitGroup
		okCount     atomic.Int64
		failedCount atomic.Int64
	)
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(shard []db.OutboxEntry) {
			defer wg.Done()
			for i := range shard {
				if ctx.Err() != nil {
					return
				}
				if d.dispatch(ctx, &shard[i]) {
					okCount.Add(1)
				} else {
					failedCount.Add(1)
				}
			}
		}(shard)
	}
	wg.Wait()

	processed = int(okCount.Load())
	failed = int(failedCount.Load())
	d.logger.Info("outbox cycle finished",
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
	return processed, failed
}

// dispatch routes one entry to its handler and records the outcome.
// Reports whether the entry ended up processed.
func (d *Dispatcher) dispatch(ctx context.Context, entry *db.OutboxEntry) bool {
	handler, ok := d.handlers[entry.EntityType]
	if !ok {
		if err := d.service.MarkFailedPermanent(ctx, entry.ID, "unknown entity type: "+entry.EntityType); err != nil {
			d.logger.Error("failed to mark outbox entry", zap.Error(err))
		}
		return false
	}

	if err := handler.Handle(ctx, entry); err != nil {
		d.logger.Error("failed to process outbox entry",
			zap.Error(err),
			zap.String("id", entry.ID.String()),
			zap.String("entity_type", entry.EntityType),
		)

		var markErr error
		if IsPermanent(err) {
			markErr = d.service.MarkFailedPermanent(ctx, entry.ID, err.Error())
		} else {
			markErr = d.service.MarkFailed(ctx, entry.ID, err.Error())
		}
		if markErr != nil {
			d.logger.Error("failed to mark outbox entry as failed", zap.Error(markErr))
		}
		return false
	}

	// A crash before this mark leaves the entry pending; the next cycle
	// re-picks it up and the idempotent handler makes redelivery safe.
	if err := d.service.MarkProcessed(ctx, entry.ID); err != nil {
		d.logger.Error("failed to mark outbox entry as processed", zap.Error(err))
		return false
	}
	return true
}

func (d *Dispatcher) maybeCleanup(ctx context.Context) {
	if d.cleanupInterval <= 0 {
		return
	}
	if time.Since(d.lastCleanup) < d.cleanupInterval && !d.lastCleanup.IsZero() {
		return
	}
	d.lastCleanup = time.Now()

	if _, err := d.service.Cleanup(ctx); err != nil {
		d.logger.Error("outbox cleanup failed", zap.Error(err))
	}
	for _, janitor := range d.janitors {
		janitor(ctx)
	}
}

func shardIndex(key string, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
