// Package telemetry — логирование и метрики.
//
//   - logging.go — structured logging через slog (LOG_LEVEL, LOG_FORMAT)
//   - metrics.go — Prometheus метрики, общие для сервисов
//
// Каждый бинарник отдаёт /metrics через promhttp.
package telemetry
