// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, launcher, publisher)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - briefing_handler.go — обработчики для /briefings
//   - run_handler.go      — обработчики для /runs (включая event log)
//   - job_handler.go      — обработчики для /jobs и источников
//   - schedule_handler.go — обработчики для /schedules
//
// API — тонкий слой: вся механика выполнения живёт в координаторе и
// worker'ах, здесь только создание/отмена runs, постановка jobs и чтение
// прогресса (status + keyset-пагинация событий).
package api
