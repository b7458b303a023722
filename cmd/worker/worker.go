package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/meter-sync-worker/internal/config"
	"github.com/septivank/meter-sync-worker/internal/db"
	"github.com/septivank/meter-sync-worker/internal/importer"
	"github.com/septivank/meter-sync-worker/internal/mq"
	"github.com/septivank/meter-sync-worker/internal/outbox"
	"github.com/septivank/meter-sync-worker/internal/repository"
	"github.com/septivank/meter-sync-worker/internal/service"
	"github.com/septivank/meter-sync-worker/internal/sync"
	"github.com/septivank/meter-sync-worker/internal/task"
	"github.com/septivank/meter-sync-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideDBPool provides the database connection pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository provides the database repository
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideUnitOfWork adapts the repository transaction helper to the
// coordinator's unit-of-work contract.
func ProvideUnitOfWork(repo *repository.Repository) sync.UnitOfWork {
	return func(ctx context.Context, fn func(store sync.Store) error) error {
		return repo.InTx(ctx, func(txr *repository.Repository) error {
			return fn(txr)
		})
	}
}

// ProvideCoordinator provides the sync coordinator
func ProvideCoordinator(uow sync.UnitOfWork, logger *zap.Logger) *sync.Coordinator {
	return sync.NewCoordinator(uow, logger)
}

// ProvideValidator provides the reading candidate validator
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.MinPhotos, cfg.Validation.FutureToleranceMinutes)
}

// ProvideOutboxService provides the outbox service
func ProvideOutboxService(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *outbox.Service {
	backoff := outbox.NewBackoff(cfg.Outbox.BackoffCapMinutes)
	return outbox.NewService(repo, backoff, cfg.Outbox.MaxRetries, cfg.Outbox.RetentionDays, logger)
}

// ProvideTracker provides the task progress tracker
func ProvideTracker(repo *repository.Repository, logger *zap.Logger) *task.Tracker {
	return task.NewTracker(repo, logger)
}

// ProvideImporter provides the bulk meter importer
func ProvideImporter(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *importer.Importer {
	return importer.NewImporter(repo, cfg.Import.BatchSize, cfg.Import.ProgressEvery, cfg.Import.MaxErrors, logger)
}

// ProvideDispatcher provides the outbox dispatcher with its handler
// registry and periodic maintenance hooks.
func ProvideDispatcher(
	svc *outbox.Service,
	repo *repository.Repository,
	tracker *task.Tracker,
	cfg *config.Config,
	logger *zap.Logger,
) *outbox.Dispatcher {
	handlers := map[string]outbox.Handler{
		db.EntityTypeReading: outbox.NewReadingHandler(repo, logger),
		db.EntityTypePhoto:   outbox.NewPhotoHandler(repo, logger),
	}

	taskRetention := time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour
	janitors := []outbox.Janitor{
		func(ctx context.Context) {
			if _, err := tracker.CleanupTerminal(ctx, taskRetention); err != nil {
				logger.Error("task cleanup failed", zap.Error(err))
			}
		},
	}

	return outbox.NewDispatcher(outbox.DispatcherConfig{
		Service:         svc,
		Handlers:        handlers,
		PollInterval:    time.Duration(cfg.Outbox.PollIntervalSeconds) * time.Second,
		BatchSize:       cfg.Outbox.BatchSize,
		Workers:         cfg.Outbox.Workers,
		CleanupInterval: time.Duration(cfg.Outbox.CleanupIntervalHours) * time.Hour,
		Janitors:        janitors,
		Logger:          logger,
	})
}

// ProvideMQConnection provides the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher provides the worker events publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.WorkerExchange, logger)
}

// ProvideProcessorService provides the message processor service
func ProvideProcessorService(
	coordinator *sync.Coordinator,
	v *validator.Validator,
	outboxSvc *outbox.Service,
	imp *importer.Importer,
	tracker *task.Tracker,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.ProcessorService {
	return service.NewProcessorService(coordinator, v, outboxSvc, imp, tracker, publisher, cfg, logger)
}

// startWorker wires the consumers and the outbox dispatcher into the
// application lifecycle.
func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	processor *service.ProcessorService,
	dispatcher *outbox.Dispatcher,
	logger *zap.Logger,
) error {
	syncConsumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Name:             "reading-sync",
		Queue:            cfg.RabbitMQ.SyncQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.SyncRoutingKey,
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: processor.ProcessSyncMessage,
	})
	if err != nil {
		return err
	}

	importConsumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:       conn,
		Name:             "meter-import",
		Queue:            cfg.RabbitMQ.ImportQueue,
		DLQQueue:         cfg.RabbitMQ.DLQQueue,
		Exchange:         cfg.RabbitMQ.IngestExchange,
		RoutingKey:       cfg.RabbitMQ.ImportRoutingKey,
		PrefetchCount:    1, // import jobs are heavy, one at a time
		Logger:           logger,
		MessageProcessor: processor.ProcessImportMessage,
	})
	if err != nil {
		return err
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := syncConsumer.Start(workerCtx); err != nil {
				cancel()
				return err
			}
			if err := importConsumer.Start(workerCtx); err != nil {
				cancel()
				return err
			}
			go dispatcher.Run(workerCtx)
			logger.Info("worker started",
				zap.String("sync_queue", cfg.RabbitMQ.SyncQueue),
				zap.String("import_queue", cfg.RabbitMQ.ImportQueue),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			if err := syncConsumer.Close(); err != nil {
				logger.Warn("failed to close sync consumer", zap.Error(err))
			}
			if err := importConsumer.Close(); err != nil {
				logger.Warn("failed to close import consumer", zap.Error(err))
			}
			logger.Info("worker stopped")
			return nil
		},
	})

	return nil
}
