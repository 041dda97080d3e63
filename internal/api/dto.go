package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
)

// Briefing DTOs

// CreateBriefingRequest — запрос на создание briefing.
type CreateBriefingRequest struct {
	Name                 string               `json:"name"`
	Personas             []domain.PersonaSpec `json:"personas"`
	RequiredForSynthesis int                  `json:"required_for_synthesis,omitempty"`
}

// UpdateBriefingRequest — запрос на обновление briefing.
// Изменение personas создаёт новую версию плана.
type UpdateBriefingRequest struct {
	Name                 *string               `json:"name,omitempty"`
	Personas             *[]domain.PersonaSpec `json:"personas,omitempty"`
	RequiredForSynthesis *int                  `json:"required_for_synthesis,omitempty"`
	IsActive             *bool                 `json:"is_active,omitempty"`
}

// BriefingResponse — ответ с briefing.
type BriefingResponse struct {
	ID                   uuid.UUID            `json:"id"`
	Name                 string               `json:"name"`
	PlanVersion          int                  `json:"plan_version"`
	Personas             []domain.PersonaSpec `json:"personas"`
	RequiredForSynthesis int                  `json:"required_for_synthesis"`
	IsActive             bool                 `json:"is_active"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

// BriefingFromDomain конвертирует domain.Briefing в BriefingResponse.
func BriefingFromDomain(b *domain.Briefing) BriefingResponse {
	return BriefingResponse{
		ID:                   b.ID,
		Name:                 b.Name,
		PlanVersion:          b.PlanVersion,
		Personas:             b.Personas,
		RequiredForSynthesis: b.RequiredForSynthesis,
		IsActive:             b.IsActive,
		CreatedAt:            b.CreatedAt,
		UpdatedAt:            b.UpdatedAt,
	}
}

// Run DTOs

// CreateRunRequest — запрос на создание run.
type CreateRunRequest struct {
	// Trigger — метка запуска для детерминированного fingerprint.
	// Пустая строка — обычный ручной запуск.
	Trigger string `json:"trigger,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID                   uuid.UUID  `json:"id"`
	BriefingID           uuid.UUID  `json:"briefing_id"`
	PlanVersion          int        `json:"plan_version"`
	Status               string     `json:"status"`
	TotalPersonas        int        `json:"total_personas"`
	RequiredForSynthesis int        `json:"required_for_synthesis"`
	Error                string     `json:"error,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// RunFromDomain конвертирует domain.BriefingRun в RunResponse.
func RunFromDomain(r *domain.BriefingRun) RunResponse {
	return RunResponse{
		ID:                   r.ID,
		BriefingID:           r.BriefingID,
		PlanVersion:          r.PlanVersion,
		Status:               string(r.Status),
		TotalPersonas:        r.TotalPersonas,
		RequiredForSynthesis: r.RequiredForSynthesis,
		Error:                r.Error,
		StartedAt:            r.StartedAt,
		EndedAt:              r.EndedAt,
		CreatedAt:            r.CreatedAt,
	}
}

// SubagentResponse — ответ с subagent run.
type SubagentResponse struct {
	ID            uuid.UUID  `json:"id"`
	PersonaKey    string     `json:"persona_key"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Output        string     `json:"output,omitempty"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// SubagentFromDomain конвертирует domain.SubagentRun в SubagentResponse.
func SubagentFromDomain(s *domain.SubagentRun) SubagentResponse {
	return SubagentResponse{
		ID:            s.ID,
		PersonaKey:    s.PersonaKey,
		Status:        string(s.Status),
		Attempt:       s.Attempt,
		MaxAttempts:   s.MaxAttempts,
		NextAttemptAt: s.NextAttemptAt,
		Output:        s.Output,
		Error:         s.Error,
		StartedAt:     s.StartedAt,
		EndedAt:       s.EndedAt,
	}
}

// SynthesisResponse — ответ с synthesis run.
type SynthesisResponse struct {
	ID        uuid.UUID  `json:"id"`
	Status    string     `json:"status"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// SynthesisFromDomain конвертирует domain.SynthesisRun в SynthesisResponse.
func SynthesisFromDomain(s *domain.SynthesisRun) SynthesisResponse {
	return SynthesisResponse{
		ID:        s.ID,
		Status:    string(s.Status),
		Output:    s.Output,
		Error:     s.Error,
		StartedAt: s.StartedAt,
		EndedAt:   s.EndedAt,
	}
}

// RunStatusResponse — агрегированный статус run: сам run, его subagents
// и synthesis одним ответом. Основной polling-endpoint для клиентов.
type RunStatusResponse struct {
	Run       RunResponse        `json:"run"`
	Subagents []SubagentResponse `json:"subagents"`
	Synthesis SynthesisResponse  `json:"synthesis"`
}

// Event DTOs

// EventResponse — ответ с событием run.
type EventResponse struct {
	EventID       uuid.UUID  `json:"event_id"`
	RunID         uuid.UUID  `json:"run_id"`
	SubagentRunID *uuid.UUID `json:"subagent_run_id,omitempty"`
	Type          string     `json:"type"`
	Message       string     `json:"message,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
	SequenceID    int64      `json:"sequence_id"`
}

// EventFromDomain конвертирует domain.RunEvent в EventResponse.
func EventFromDomain(e *domain.RunEvent) EventResponse {
	return EventResponse{
		EventID:       e.EventID,
		RunID:         e.RunID,
		SubagentRunID: e.SubagentRunID,
		Type:          string(e.Type),
		Message:       e.Message,
		OccurredAt:    e.OccurredAt,
		SequenceID:    e.SequenceID,
	}
}

// EventsPageResponse — страница событий с курсором для следующей страницы.
// NextCursor пуст, когда событий за курсором не осталось.
type EventsPageResponse struct {
	Events     []EventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// encodeEventCursor сериализует курсор в opaque-строку для клиента.
func encodeEventCursor(c *domain.EventCursor) string {
	if c == nil {
		return ""
	}
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeEventCursor разбирает opaque-курсор клиента.
func decodeEventCursor(s string) (*domain.EventCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	var c domain.EventCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c, nil
}

// Job DTOs

// EnqueueExtractionRequest — запрос на постановку extraction job.
type EnqueueExtractionRequest struct {
	URL string `json:"url"`
}

// JobResponse — ответ с job.
type JobResponse struct {
	ID            uuid.UUID      `json:"id"`
	SubjectID     uuid.UUID      `json:"subject_id"`
	Queue         string         `json:"queue"`
	Status        string         `json:"status"`
	Attempts      int            `json:"attempts"`
	MaxAttempts   int            `json:"max_attempts"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j *domain.Job, queue domain.QueueName) JobResponse {
	return JobResponse{
		ID:            j.ID,
		SubjectID:     j.SubjectID,
		Queue:         string(queue),
		Status:        string(j.Status),
		Attempts:      j.Attempts,
		MaxAttempts:   j.MaxAttempts,
		NextAttemptAt: j.NextAttemptAt,
		LastError:     j.LastError,
		Payload:       j.Payload,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

// Document DTOs

// DocumentResponse — ответ с извлечённым документом.
type DocumentResponse struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DocumentFromDomain конвертирует domain.Document в DocumentResponse.
func DocumentFromDomain(d *domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID,
		URL:       d.URL,
		Title:     d.Title,
		FetchedAt: d.FetchedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
type CreateScheduleRequest struct {
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — запрос на обновление schedule.
type UpdateScheduleRequest struct {
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID          uuid.UUID  `json:"id"`
	BriefingID  uuid.UUID  `json:"briefing_id"`
	CronExpr    string     `json:"cron_expr,omitempty"`
	IntervalSec int        `json:"interval_sec,omitempty"`
	Timezone    string     `json:"timezone"`
	Enabled     bool       `json:"enabled"`
	NextDueAt   *time.Time `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastRunID   *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.BriefingSchedule в ScheduleResponse.
func ScheduleFromDomain(s *domain.BriefingSchedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		BriefingID:  s.BriefingID,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		NextDueAt:   s.NextDueAt,
		LastRunAt:   s.LastRunAt,
		LastRunID:   s.LastRunID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}
