package domain

import "fmt"

// JobStatus — статус фонового job (extraction или ingestion).
//
// Жизненный цикл:
//
//	PENDING → PROCESSING → SUCCEEDED
//	                     ↘ RETRY (attempts < max_attempts) → PROCESSING
//	                     ↘ FAILED (попытки исчерпаны)
type JobStatus string

const (
	// JobStatusPending — job создан и ожидает выполнения.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusProcessing — job захвачен worker'ом (lease активен).
	JobStatusProcessing JobStatus = "PROCESSING"

	// JobStatusRetry — job упал и ожидает следующей попытки (next_attempt_at).
	JobStatusRetry JobStatus = "RETRY"

	// JobStatusSucceeded — job успешно завершён.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed — job упал окончательно (попытки исчерпаны или
	// permanent-ошибка). Требует вмешательства человека.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}

// RunStatus — статус выполнения briefing run.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCEEDED
//	                 ↘ FAILED
//	                 ↘ CANCELLING → CANCELLED
type RunStatus string

const (
	// RunStatusQueued — run создан, координатор ещё не начал выполнение.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusRunning — run в процессе выполнения (subagents/synthesis).
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCancelling — запрошена отмена, ожидаем завершения
	// in-flight subagents (кооперативная отмена).
	RunStatusCancelling RunStatus = "CANCELLING"

	// RunStatusSucceeded — synthesis завершён, dossier готов.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — run завершился с ошибкой (кворум недостижим и т.п.).
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// SubagentStatus — статус выполнения одного persona-subagent внутри run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ SKIPPED_NO_OUTPUT (persona не дала вклада)
//	                  ↘ SKIPPED
//	                  ↘ RETRY_WAIT → RUNNING (attempt < max_attempts)
//	                  ↘ FAILED
//	        ↘ CANCELLED (из PENDING, RUNNING или RETRY_WAIT)
type SubagentStatus string

const (
	// SubagentStatusPending — subagent создан, ещё не запущен.
	SubagentStatusPending SubagentStatus = "PENDING"

	// SubagentStatusRunning — subagent выполняется координатором.
	SubagentStatusRunning SubagentStatus = "RUNNING"

	// SubagentStatusSucceeded — subagent дал вклад в briefing.
	SubagentStatusSucceeded SubagentStatus = "SUCCEEDED"

	// SubagentStatusSkippedNoOutput — subagent отработал, но релевантного
	// материала для persona не нашлось. Засчитывается в кворум synthesis.
	SubagentStatusSkippedNoOutput SubagentStatus = "SKIPPED_NO_OUTPUT"

	// SubagentStatusSkipped — subagent пропущен (persona отключена и т.п.).
	SubagentStatusSkipped SubagentStatus = "SKIPPED"

	// SubagentStatusRetryWait — subagent упал и ожидает повторной попытки.
	SubagentStatusRetryWait SubagentStatus = "RETRY_WAIT"

	// SubagentStatusFailed — subagent упал окончательно.
	SubagentStatusFailed SubagentStatus = "FAILED"

	// SubagentStatusCancelled — subagent отменён вместе с run.
	SubagentStatusCancelled SubagentStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s SubagentStatus) IsTerminal() bool {
	switch s {
	case SubagentStatusSucceeded, SubagentStatusSkippedNoOutput,
		SubagentStatusSkipped, SubagentStatusFailed, SubagentStatusCancelled:
		return true
	default:
		return false
	}
}

// IsSuccessLike возвращает true, если статус засчитывается в кворум synthesis.
func (s SubagentStatus) IsSuccessLike() bool {
	return s == SubagentStatusSucceeded || s == SubagentStatusSkippedNoOutput
}

// SynthesisStatus — статус synthesis-шага run.
//
// Жизненный цикл:
//
//	NOT_STARTED → RUNNING → SUCCEEDED
//	                      ↘ FAILED
//	            ↘ SKIPPED (кворум недостижим)
//	            ↘ CANCELLED (из NOT_STARTED или RUNNING)
type SynthesisStatus string

const (
	// SynthesisStatusNotStarted — кворум subagents ещё не набран.
	SynthesisStatusNotStarted SynthesisStatus = "NOT_STARTED"

	// SynthesisStatusRunning — synthesis выполняется.
	SynthesisStatusRunning SynthesisStatus = "RUNNING"

	// SynthesisStatusSucceeded — dossier собран.
	SynthesisStatusSucceeded SynthesisStatus = "SUCCEEDED"

	// SynthesisStatusFailed — synthesis упал.
	SynthesisStatusFailed SynthesisStatus = "FAILED"

	// SynthesisStatusSkipped — кворум недостижим, synthesis не запускался.
	SynthesisStatusSkipped SynthesisStatus = "SKIPPED"

	// SynthesisStatusCancelled — synthesis отменён вместе с run.
	SynthesisStatusCancelled SynthesisStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s SynthesisStatus) IsTerminal() bool {
	switch s {
	case SynthesisStatusSucceeded, SynthesisStatusFailed,
		SynthesisStatusSkipped, SynthesisStatusCancelled:
		return true
	default:
		return false
	}
}

// --- Таблицы переходов ---
//
// Любой не перечисленный здесь переход отклоняется с InvalidTransitionError.
// Таблицы проверяются перед conditional update — это второй рубеж после
// guard'а в WHERE-клаузе самого update.

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:     {RunStatusRunning, RunStatusCancelling},
	RunStatusRunning:    {RunStatusCancelling, RunStatusSucceeded, RunStatusFailed},
	RunStatusCancelling: {RunStatusCancelled},
}

var subagentTransitions = map[SubagentStatus][]SubagentStatus{
	// PENDING -> SKIPPED: persona отключена в плане, subagent не запускается.
	SubagentStatusPending: {SubagentStatusRunning, SubagentStatusSkipped, SubagentStatusCancelled},
	SubagentStatusRunning: {
		SubagentStatusSucceeded, SubagentStatusSkippedNoOutput, SubagentStatusSkipped,
		SubagentStatusRetryWait, SubagentStatusFailed, SubagentStatusCancelled,
	},
	SubagentStatusRetryWait: {SubagentStatusRunning, SubagentStatusCancelled},
}

var synthesisTransitions = map[SynthesisStatus][]SynthesisStatus{
	SynthesisStatusNotStarted: {SynthesisStatusRunning, SynthesisStatusSkipped, SynthesisStatusCancelled},
	SynthesisStatusRunning:    {SynthesisStatusSucceeded, SynthesisStatusFailed, SynthesisStatusCancelled},
}

// CanTransition проверяет допустимость перехода run.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransition проверяет допустимость перехода subagent.
func (s SubagentStatus) CanTransition(to SubagentStatus) bool {
	for _, allowed := range subagentTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransition проверяет допустимость перехода synthesis.
func (s SynthesisStatus) CanTransition(to SynthesisStatus) bool {
	for _, allowed := range synthesisTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError — попытка недопустимого перехода состояния.
//
// Это всегда баг или гонка (например, два координатора пытаются стартовать
// один subagent). Такие ошибки логируются и возвращаются вызывающему,
// никогда не проглатываются молча.
type InvalidTransitionError struct {
	Entity string // "run", "subagent", "synthesis"
	From   string
	To     string
}

// Error реализует интерфейс error.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Entity, e.From, e.To)
}
