package domain

import (
	"time"

	"github.com/google/uuid"
)

// BriefingRun — одна попытка выполнения briefing.
//
// Run создаётся когда:
// - Пользователь одобряет briefing (через API/CLI)
// - Scheduler создаёт run по расписанию
//
// Структурный инвариант: не более одного незавершённого run на briefing —
// обеспечивается partial unique index в БД, а не только проверкой в коде.
// EndedAt заполнено тогда и только тогда, когда Status терминальный.
type BriefingRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// BriefingID — ссылка на briefing, который выполняется.
	BriefingID uuid.UUID `json:"briefing_id"`

	// PlanVersion — версия плана briefing (набор personas), зафиксированная
	// на момент создания run.
	PlanVersion int `json:"plan_version"`

	// ExecutionFingerprint — детерминированный hash (briefing id + plan
	// version + метка запуска) для обнаружения дублирующихся стартов.
	ExecutionFingerprint string `json:"execution_fingerprint"`

	// Status — текущий статус run.
	Status RunStatus `json:"status"`

	// TotalPersonas — количество subagents в этом run.
	TotalPersonas int `json:"total_personas"`

	// RequiredForSynthesis — кворум: сколько subagents должны завершиться
	// success-like (SUCCEEDED или SKIPPED_NO_OUTPUT), чтобы стартовал synthesis.
	RequiredForSynthesis int `json:"required_for_synthesis"`

	// Error — текст ошибки, если run завершился FAILED.
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в терминальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если run завершён.
func (r *BriefingRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *BriefingRun) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// SubagentRun — выполнение одной persona внутри run.
//
// Инварианты: уникальность (run_id, persona_key); attempt <= max_attempts.
type SubagentRun struct {
	// ID — уникальный идентификатор subagent run.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский BriefingRun.
	RunID uuid.UUID `json:"run_id"`

	// PersonaKey — ключ persona (роль/prompt-конфигурация).
	PersonaKey string `json:"persona_key"`

	// Status — текущий статус.
	Status SubagentStatus `json:"status"`

	// Attempt — номер текущей попытки, начиная с 1.
	Attempt int `json:"attempt"`

	// MaxAttempts — предел попыток.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt — время следующей попытки для RETRY_WAIT.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// Output — вклад persona в briefing (текст).
	Output string `json:"output,omitempty"`

	// Error — текст последней ошибки.
	Error string `json:"error,omitempty"`

	// StartedAt — время первого перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в терминальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения. По нему sweep находит
	// застрявшие RUNNING subagents.
	UpdatedAt time.Time `json:"updated_at"`
}

// CanRetry возвращает true, если остались попытки.
func (s *SubagentRun) CanRetry() bool {
	return s.Attempt < s.MaxAttempts
}

// SynthesisRun — финальный шаг run: сведение вкладов personas в dossier.
//
// Ровно один на BriefingRun (unique по run_id). Тот же инвариант
// терминальности, что и у BriefingRun: EndedAt ⇔ терминальный статус.
type SynthesisRun struct {
	// ID — уникальный идентификатор synthesis run.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский BriefingRun.
	RunID uuid.UUID `json:"run_id"`

	// Status — текущий статус.
	Status SynthesisStatus `json:"status"`

	// Output — итоговый текст dossier.
	Output string `json:"output,omitempty"`

	// Error — текст ошибки, если synthesis упал.
	Error string `json:"error,omitempty"`

	// StartedAt — время перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в терминальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`
}
