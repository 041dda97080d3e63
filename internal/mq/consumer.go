package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает входящее сообщение.
// Ненулевая ошибка приводит к requeue; сообщение, которое не удалось
// распарсить, уходит в DLQ.
type Handler func(ctx context.Context, msg Message) error

// Consumer потребляет сообщения из одной очереди.
type Consumer struct {
	conn     *Connection
	queue    string
	prefetch int
	logger   *slog.Logger
	handler  Handler
}

// NewConsumer создаёт потребителя для указанной очереди.
func NewConsumer(conn *Connection, queue string, prefetch int, handler Handler, logger *slog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Consumer{
		conn:     conn,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger.With("queue", queue),
		handler:  handler,
	}
}

// Run запускает цикл потребления до отмены контекста.
// При потере соединения ждёт восстановления и продолжает.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("consume loop stopped, waiting for reconnect", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-c.conn.ReconnectNotify():
		case <-time.After(5 * time.Second):
		}
	}
}

// consume подписывается на очередь и обрабатывает поставки до ошибки канала.
func (c *Consumer) consume(ctx context.Context) error {
	ch := c.conn.Channel()
	if ch == nil {
		return fmt.Errorf("no amqp channel")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consume: %w", err)
	}

	c.logger.Info("consuming messages")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

// handleDelivery парсит и обрабатывает одну поставку.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error("malformed message, sending to DLQ", "error", err)
		// requeue=false: с dead-letter-аргументами очереди уйдёт в DLQ
		_ = d.Nack(false, false)
		return
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Warn("handler failed, requeueing", "type", msg.Type, "error", err)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

// ParsePayload десериализует payload сообщения в заданный тип.
// После общего json.Unmarshal payload лежит как map[string]any,
// поэтому перегоняем через JSON ещё раз.
func ParsePayload[T any](msg Message) (T, error) {
	var payload T
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return payload, fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("parse %s payload: %w", msg.Type, err)
	}
	return payload, nil
}
