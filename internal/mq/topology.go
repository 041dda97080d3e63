package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns Exchange = "dossier.runs"
	ExchangeJobs Exchange = "dossier.jobs"
	ExchangeDLQ  Exchange = "dossier.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsApproved   Queue = "runs.approved"
	QueueRunsCancel     Queue = "runs.cancel"
	QueueJobsExtraction Queue = "jobs.extraction"
	QueueJobsIngestion  Queue = "jobs.ingestion"
	QueueDLQJobs        Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyApproved   RoutingKey = "approved"
	RoutingKeyCancel     RoutingKey = "cancel"
	RoutingKeyExtraction RoutingKey = "extraction"
	RoutingKeyIngestion  RoutingKey = "ingestion"
	RoutingKeyDLQJobs    RoutingKey = "jobs"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Идемпотентно: каждый сервис вызывает при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeRuns, "direct"},
		{ExchangeJobs, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Очереди jobs получают DLQ: отравленное сообщение после nack
	// уходит в dlq.jobs для ручного разбора.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.* — без DLQ: это только nudge, источник истины в БД
		{QueueRunsApproved, nil},
		{QueueRunsCancel, nil},

		{QueueJobsExtraction, dlqArgs},
		{QueueJobsIngestion, dlqArgs},

		{QueueDLQJobs, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsApproved, RoutingKeyApproved, ExchangeRuns},
		{QueueRunsCancel, RoutingKeyCancel, ExchangeRuns},
		{QueueJobsExtraction, RoutingKeyExtraction, ExchangeJobs},
		{QueueJobsIngestion, RoutingKeyIngestion, ExchangeJobs},
		{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
