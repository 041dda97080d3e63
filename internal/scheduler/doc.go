// Package scheduler — периодические обязанности системы.
//
// Две независимые работы, обе идемпотентные:
//
//   - Tick — находит due briefing schedules и создаёт runs.
//     Дубликаты отбиваются fingerprint'ом запуска и partial unique
//     index'ом активных runs; если briefing ещё выполняется,
//     срабатывание пропускается.
//
//   - Sweep — возвращает протухшие lease: PROCESSING jobs без
//     прогресса переводятся обратно в RETRY, застрявшие RUNNING
//     subagents — в RETRY_WAIT или FAILED.
//
// Несколько экземпляров scheduler безопасны: обе работы построены
// на conditional updates.
package scheduler
