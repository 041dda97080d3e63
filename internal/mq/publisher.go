package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunApproved MessageType = "run.approved"
	MessageTypeRunCancel   MessageType = "run.cancel"
	MessageTypeJobReady    MessageType = "job.ready"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// RunApprovedPayload — payload для сообщения об одобренном run.
type RunApprovedPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// RunCancelPayload — payload для запроса отмены run.
type RunCancelPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// JobReadyPayload — payload для сообщения о job, готовом к выполнению.
type JobReadyPayload struct {
	JobID uuid.UUID `json:"job_id"`
	Queue string    `json:"queue"` // "extraction" или "ingestion"
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunApproved публикует событие об одобренном run.
// Потребитель: Coordinator.
func (p *Publisher) PublishRunApproved(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunApproved,
		Payload:   RunApprovedPayload{RunID: runID},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyApproved, msg)
}

// PublishRunCancel публикует запрос отмены run.
// Потребитель: Coordinator.
func (p *Publisher) PublishRunCancel(ctx context.Context, runID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunCancel,
		Payload:   RunCancelPayload{RunID: runID},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeRuns, RoutingKeyCancel, msg)
}

// PublishJobReady публикует событие о job, готовом к выполнению.
// Потребитель: Worker соответствующей очереди.
func (p *Publisher) PublishJobReady(ctx context.Context, jobID uuid.UUID, queue string) error {
	routingKey := RoutingKeyExtraction
	if queue == "ingestion" {
		routingKey = RoutingKeyIngestion
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobReady,
		Payload:   JobReadyPayload{JobID: jobID, Queue: queue},
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, ExchangeJobs, routingKey, msg)
}
