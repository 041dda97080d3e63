package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события в event log.
type EventType string

// Типы событий run.
const (
	EventRunQueued     EventType = "run.queued"
	EventRunStarted    EventType = "run.started"
	EventRunCancelling EventType = "run.cancelling"
	EventRunSucceeded  EventType = "run.succeeded"
	EventRunFailed     EventType = "run.failed"
	EventRunCancelled  EventType = "run.cancelled"
)

// Типы событий subagent.
const (
	EventSubagentStarted         EventType = "subagent.started"
	EventSubagentSucceeded       EventType = "subagent.succeeded"
	EventSubagentSkippedNoOutput EventType = "subagent.skipped_no_output"
	EventSubagentSkipped         EventType = "subagent.skipped"
	EventSubagentRetryWait       EventType = "subagent.retry_wait"
	EventSubagentFailed          EventType = "subagent.failed"
	EventSubagentCancelled       EventType = "subagent.cancelled"
)

// Типы событий synthesis.
const (
	EventSynthesisStarted   EventType = "synthesis.started"
	EventSynthesisSucceeded EventType = "synthesis.succeeded"
	EventSynthesisFailed    EventType = "synthesis.failed"
	EventSynthesisSkipped   EventType = "synthesis.skipped"
	EventSynthesisCancelled EventType = "synthesis.cancelled"
)

// RunEvent — append-only факт о ходе выполнения run.
//
// Единственный способ для внешних наблюдателей (polling-клиентов) узнать
// о прогрессе. Каждый переход состояния пишет событие в той же транзакции,
// что и сам переход — crash между ними невозможен.
//
// EventID — idempotency key: повторная доставка того же логического события
// с тем же id — тихий no-op. Полный порядок внутри run задаётся парой
// (occurred_at, sequence_id); sequence_id назначается БД и является
// единственной монотонной составляющей (wall-clock не монотонен).
type RunEvent struct {
	// EventID — глобально уникальный idempotency key, задаётся вызывающим.
	EventID uuid.UUID `json:"event_id"`

	// RunID — ссылка на BriefingRun.
	RunID uuid.UUID `json:"run_id"`

	// SubagentRunID — ссылка на SubagentRun, если событие про subagent.
	SubagentRunID *uuid.UUID `json:"subagent_run_id,omitempty"`

	// Type — тип события.
	Type EventType `json:"type"`

	// Message — человекочитаемое описание.
	Message string `json:"message,omitempty"`

	// OccurredAt — время события по часам писателя.
	OccurredAt time.Time `json:"occurred_at"`

	// SequenceID — монотонный tie-breaker, назначается БД при вставке.
	SequenceID int64 `json:"sequence_id"`
}

// EventCursor — курсор keyset-пагинации по event log.
//
// Курсор — ключ сортировки последнего увиденного события. Предикат
// "строго после курсора" устойчив к конкурентным вставкам: ни дубликатов,
// ни пропусков, в отличие от OFFSET.
type EventCursor struct {
	OccurredAt time.Time `json:"occurred_at"`
	SequenceID int64     `json:"sequence_id"`
}

// Covers возвращает true, если событие находится не позже курсора,
// то есть уже было отдано клиенту.
func (c EventCursor) Covers(e *RunEvent) bool {
	if e.OccurredAt.Before(c.OccurredAt) {
		return true
	}
	return e.OccurredAt.Equal(c.OccurredAt) && e.SequenceID <= c.SequenceID
}
