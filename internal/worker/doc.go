// Package worker выполняет jobs из очередей extraction и ingestion.
//
// # Обзор
//
// Worker — stateless компонент системы Dossier:
//
//   - Получает уведомления о jobs из RabbitMQ (event-driven)
//   - Периодически опрашивает due jobs в БД (polling fallback)
//   - Захватывает job через conditional update (lease)
//   - Выполняет работу через Executor по типу очереди
//   - Разводит ошибки на transient (retry с backoff) и permanent (FAILED)
//
// Workers масштабируются горизонтально: lease в БД гарантирует,
// что каждый job выполняется не более чем одним экземпляром.
//
// # Lease
//
// Захват — это UPDATE ... WHERE status IN (PENDING, RETRY) AND
// next_attempt_at <= now. Проигранная гонка (0 строк) — не ошибка,
// job достался другому воркеру. Воркер не продлевает lease:
// протухшие lease возвращает sweep планировщика.
//
// # Очереди
//
//   - extraction: скачивает источник по URL и ставит ingestion job
//   - ingestion: сохраняет извлечённый документ для briefing
//
// # Ошибки
//
// Executor возвращает обычный error. Классификация:
//
//   - permanent (extract.ErrRejected, ai.ErrBadRequest, битый payload) —
//     job сразу переходит в FAILED, попытка не расходуется
//   - всё остальное transient — RETRY с exponential backoff,
//     пока не исчерпан max_attempts
package worker
