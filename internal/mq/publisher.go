package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// ReadingSyncedEvent is published after a reading batch commits.
type ReadingSyncedEvent struct {
	RequestID    string  `json:"request_id"`
	ReadingID    string  `json:"reading_id"`
	MeterID      string  `json:"meter_id"`
	ClientID     string  `json:"client_id,omitempty"`
	ReadingValue float64 `json:"reading_value"`
	ReadingDate  string  `json:"reading_date"`
	SyncStatus   string  `json:"sync_status"`
}

// SyncConflict mirrors one conflict descriptor in a sync response.
type SyncConflict struct {
	ClientID string `json:"client_id,omitempty"`
	MeterID  string `json:"meter_id,omitempty"`
	Reason   string `json:"reason"`
}

// SyncCompletedEvent is the batch-level response published back to the
// gateway once a sync request has been reconciled.
type SyncCompletedEvent struct {
	RequestID string         `json:"request_id"`
	DeviceID  string         `json:"device_id"`
	Synced    int            `json:"synced"`
	Failed    int            `json:"failed"`
	Conflicts []SyncConflict `json:"conflicts"`
}

// ImportCompletedEvent is published when an import task reaches a
// terminal state.
type ImportCompletedEvent struct {
	TaskID  string `json:"task_id"`
	File    string `json:"file"`
	Status  string `json:"status"`
	Success int    `json:"success"`
	Failed  int    `json:"failed"`
	Total   int    `json:"total"`
}

// PublishReadingSynced publishes a reading synced event
func (p *Publisher) PublishReadingSynced(ctx context.Context, event ReadingSyncedEvent, routingKey string) error {
	if err := p.publish(ctx, routingKey, event); err != nil {
		return err
	}
	p.logger.Debug("published reading synced event",
		zap.String("routing_key", routingKey),
		zap.String("reading_id", event.ReadingID),
		zap.String("meter_id", event.MeterID),
	)
	return nil
}

// PublishSyncCompleted publishes a sync batch result event
func (p *Publisher) PublishSyncCompleted(ctx context.Context, event SyncCompletedEvent, routingKey string) error {
	if err := p.publish(ctx, routingKey, event); err != nil {
		return err
	}
	p.logger.Debug("published sync completed event",
		zap.String("routing_key", routingKey),
		zap.String("request_id", event.RequestID),
		zap.Int("synced", event.Synced),
		zap.Int("failed", event.Failed),
	)
	return nil
}

// PublishImportCompleted publishes an import completed event
func (p *Publisher) PublishImportCompleted(ctx context.Context, event ImportCompletedEvent, routingKey string) error {
	if err := p.publish(ctx, routingKey, event); err != nil {
		return err
	}
	p.logger.Debug("published import completed event",
		zap.String("routing_key", routingKey),
		zap.String("task_id", event.TaskID),
		zap.String("status", event.Status),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
