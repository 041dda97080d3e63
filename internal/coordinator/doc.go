// Package coordinator управляет выполнением briefing runs.
//
// # Обзор
//
// Coordinator — центральный компонент системы Dossier:
//
//   - Получает одобренные runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет QUEUED runs в БД (polling fallback)
//   - Раскладывает run на persona-subagents (fan-out)
//   - Выполняет subagents в ограниченном пуле горутин
//   - По достижении кворума запускает synthesis (fan-in)
//   - Финализирует run и пишет события в event log
//
// # Конкуренция
//
// Несколько экземпляров координатора могут работать одновременно.
// Двойной dispatch исключается на уровне БД: старт subagent — это
// conditional update PENDING/RETRY_WAIT → RUNNING, старт synthesis —
// NOT_STARTED → RUNNING. Проигравший гонку экземпляр просто
// пропускает работу.
//
// # События
//
// Каждый переход состояния пишет событие в run_events в той же
// транзакции, что и сам переход. Упавшая транзакция не оставляет
// ни перехода без события, ни события без перехода.
//
// # Отмена
//
// Отмена кооперативная: run переводится в CANCELLING, работающие
// subagents замечают отмену контекста между вызовами провайдера и
// сами переходят в CANCELLED. Run становится CANCELLED, когда все
// subagents и synthesis терминальны.
package coordinator
