package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
)

// CreateRun создаёт и одобряет run briefing.
// POST /api/v1/briefings/{id}/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	briefingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	var req CreateRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	briefing, err := h.briefingRepo.GetByID(r.Context(), briefingID)
	if HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	run, err := h.launcher.CreateRun(r.Context(), briefing, req.Trigger)
	if errors.Is(err, coordinator.ErrNoEnabledPersonas) {
		InvalidState(w, err.Error())
		return
	}
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	// Nudge координатору; при недоступном MQ run подберёт его poll
	if h.publisher != nil {
		if err := h.publisher.PublishRunApproved(r.Context(), run.ID); err != nil {
			h.logger.Warn("failed to publish run.approved", "run_id", run.ID, "error", err)
		}
	}

	Created(w, RunFromDomain(run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(run))
}

// GetRunStatus возвращает агрегированный статус run: run + subagents +
// synthesis. Polling-клиентам достаточно этого endpoint'а и event log'а.
// GET /api/v1/runs/{id}/status
func (h *Handler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	subs, err := h.subagentRepo.ListByRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	synth, err := h.synthRepo.GetByRun(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := RunStatusResponse{
		Run:       RunFromDomain(run),
		Subagents: make([]SubagentResponse, len(subs)),
		Synthesis: SynthesisFromDomain(synth),
	}
	for i := range subs {
		result.Subagents[i] = SubagentFromDomain(&subs[i])
	}

	Success(w, result)
}

// ListBriefingRuns возвращает runs briefing (новые — первыми).
// GET /api/v1/briefings/{id}/runs?limit=...
func (h *Handler) ListBriefingRuns(w http.ResponseWriter, r *http.Request) {
	briefingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	runs, err := h.runRepo.ListByBriefing(r.Context(), briefingID, queryInt(r, "limit", 50))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i := range runs {
		result[i] = RunFromDomain(&runs[i])
	}

	List(w, result, len(result))
}

// CancelRun запрашивает кооперативную отмену run.
//
// API переводит run в CANCELLING в БД; координатор заметит переход
// через MQ-сообщение или свой poll и остановит subagents. Повторный
// запрос отмены — no-op.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.runRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	switch run.Status {
	case domain.RunStatusQueued, domain.RunStatusRunning:
	case domain.RunStatusCancelling:
		Success(w, RunFromDomain(run))
		return
	default:
		InvalidState(w, "run is already finished")
		return
	}

	now := time.Now().UTC()
	err = repo.WithTx(r.Context(), h.pool, func(tx pgx.Tx) error {
		if err := h.runRepo.TransitionTx(r.Context(), tx, id,
			run.Status, domain.RunStatusCancelling, "", now); err != nil {
			return err
		}
		_, err := h.eventRepo.AppendTx(r.Context(), tx, &domain.RunEvent{
			EventID:    uuid.New(),
			RunID:      id,
			Type:       domain.EventRunCancelling,
			Message:    "cancellation requested",
			OccurredAt: now,
		})
		return err
	})
	if err != nil {
		// Гонка с координатором: run успел сменить статус между чтением
		// и переходом. Перечитываем и отдаём фактическое состояние.
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			if current, gerr := h.runRepo.GetByID(r.Context(), id); gerr == nil {
				if current.Status == domain.RunStatusCancelling || current.Status == domain.RunStatusCancelled {
					Success(w, RunFromDomain(current))
					return
				}
				InvalidState(w, "run is already finished")
				return
			}
		}
		InternalError(w, h.logger, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.PublishRunCancel(r.Context(), id); err != nil {
			h.logger.Warn("failed to publish run.cancel", "run_id", id, "error", err)
		}
	}

	run.Status = domain.RunStatusCancelling
	h.logger.Info("run cancellation requested", "run_id", id)
	Success(w, RunFromDomain(run))
}

// ListRunEvents возвращает страницу событий run с keyset-пагинацией.
//
// Клиент передаёт курсор из предыдущего ответа и получает события строго
// после него. Пустой next_cursor означает конец известного лога; курсор
// остаётся валидным — новые события появятся за ним.
// GET /api/v1/runs/{id}/events?cursor=...&limit=...
func (h *Handler) ListRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	cursor, err := decodeEventCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		BadRequest(w, "invalid cursor")
		return
	}

	if _, err := h.runRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	events, next, err := h.eventRepo.ListPage(r.Context(), id, cursor, queryInt(r, "limit", 100))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := EventsPageResponse{
		Events:     make([]EventResponse, len(events)),
		NextCursor: encodeEventCursor(next),
	}
	for i := range events {
		result.Events[i] = EventFromDomain(&events[i])
	}

	Success(w, result)
}
