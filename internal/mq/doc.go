// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// MQ здесь — только канал "толчков" (nudge): источником истины всегда
// остаются строки в Postgres, а потеря сообщения компенсируется
// polling fallback'ом потребителя.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - run.approved — briefing run одобрен и ждёт координатора
//   - run.cancel   — запрошена отмена run
//   - job.ready    — job поставлен в очередь и ждёт worker'а
package mq
