package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Outbox      OutboxConfig
	Import      ImportConfig
	Validation  ValidationConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                string
	IngestExchange     string
	SyncQueue          string
	SyncRoutingKey     string
	ImportQueue        string
	ImportRoutingKey   string
	WorkerExchange     string
	SyncedRoutingKey   string
	SyncDoneRoutingKey string
	ImportedRoutingKey string
	DLQQueue           string
	PrefetchCount      int
}

// OutboxConfig holds outbox dispatcher and retry settings
type OutboxConfig struct {
	PollIntervalSeconds  int
	BatchSize            int
	MaxRetries           int
	BackoffCapMinutes    int
	RetentionDays        int
	Workers              int
	CleanupIntervalHours int
}

// ImportConfig holds bulk import settings
type ImportConfig struct {
	BatchSize     int
	ProgressEvery int
	MaxErrors     int
}

// ValidationConfig holds candidate validation settings
type ValidationConfig struct {
	MinPhotos              int
	FutureToleranceMinutes int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "meter-sync-worker"),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                getEnv("RABBITMQ_URL", ""),
			IngestExchange:     getEnv("RABBITMQ_INGEST_EXCHANGE", "meter-sync.ingest.exchange"),
			SyncQueue:          getEnv("RABBITMQ_SYNC_QUEUE", "meter-sync.readings.queue"),
			SyncRoutingKey:     getEnv("RABBITMQ_SYNC_ROUTING_KEY", "reading.sync.request"),
			ImportQueue:        getEnv("RABBITMQ_IMPORT_QUEUE", "meter-sync.import.queue"),
			ImportRoutingKey:   getEnv("RABBITMQ_IMPORT_ROUTING_KEY", "meter.import.request"),
			WorkerExchange:     getEnv("RABBITMQ_WORKER_EXCHANGE", "meter-sync.worker.events.exchange"),
			SyncedRoutingKey:   getEnv("RABBITMQ_SYNCED_ROUTING_KEY", "reading.synced"),
			SyncDoneRoutingKey: getEnv("RABBITMQ_SYNC_DONE_ROUTING_KEY", "reading.sync.completed"),
			ImportedRoutingKey: getEnv("RABBITMQ_IMPORTED_ROUTING_KEY", "meter.import.completed"),
			DLQQueue:           getEnv("RABBITMQ_DLQ_QUEUE", "meter-sync.ingest.dlq"),
			PrefetchCount:      getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Outbox: OutboxConfig{
			PollIntervalSeconds:  getEnvAsInt("OUTBOX_POLL_INTERVAL_SECONDS", 60),
			BatchSize:            getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			MaxRetries:           getEnvAsInt("OUTBOX_MAX_RETRIES", 5),
			BackoffCapMinutes:    getEnvAsInt("OUTBOX_BACKOFF_CAP_MINUTES", 60),
			RetentionDays:        getEnvAsInt("OUTBOX_RETENTION_DAYS", 30),
			Workers:              getEnvAsInt("OUTBOX_WORKERS", 4),
			CleanupIntervalHours: getEnvAsInt("OUTBOX_CLEANUP_INTERVAL_HOURS", 24),
		},
		Import: ImportConfig{
			BatchSize:     getEnvAsInt("IMPORT_BATCH_SIZE", 500),
			ProgressEvery: getEnvAsInt("IMPORT_PROGRESS_EVERY", 50),
			MaxErrors:     getEnvAsInt("IMPORT_MAX_ERRORS", 200),
		},
		Validation: ValidationConfig{
			MinPhotos:              getEnvAsInt("VALIDATION_MIN_PHOTOS", 2),
			FutureToleranceMinutes: getEnvAsInt("VALIDATION_FUTURE_TOLERANCE_MINUTES", 15),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
