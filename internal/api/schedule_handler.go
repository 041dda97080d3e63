package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/scheduler"
)

// CreateSchedule создаёт schedule для briefing.
// POST /api/v1/briefings/{id}/schedules
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	briefingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.CronExpr == "" && req.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}
	if req.CronExpr != "" {
		if err := scheduler.ValidateCronExpr(req.CronExpr); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}

	if _, err := h.briefingRepo.GetByID(r.Context(), briefingID); HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	now := time.Now().UTC()
	sched := &domain.BriefingSchedule{
		ID:          uuid.New(),
		BriefingID:  briefingID,
		CronExpr:    req.CronExpr,
		IntervalSec: req.IntervalSec,
		Timezone:    req.Timezone,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	nextDue, err := scheduler.CalculateNextDue(sched, now)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	sched.NextDueAt = &nextDue

	if HandleRepoError(w, h.logger, h.scheduleRepo.Create(r.Context(), sched), "") {
		return
	}

	h.logger.Info("schedule created",
		"schedule_id", sched.ID, "briefing_id", briefingID, "next_due_at", nextDue)
	Created(w, ScheduleFromDomain(sched))
}

// GetSchedule возвращает schedule по ID.
// GET /api/v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}

// UpdateSchedule обновляет schedule.
//
// Смена cron/interval/timezone пересчитывает next_due_at от текущего
// момента; включение выключенного schedule — тоже, иначе он сработал бы
// немедленно по устаревшему next_due_at.
// PUT /api/v1/schedules/{id}
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	recompute := false

	if req.CronExpr != nil {
		if *req.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(*req.CronExpr); err != nil {
				BadRequest(w, err.Error())
				return
			}
		}
		sched.CronExpr = *req.CronExpr
		recompute = true
	}
	if req.IntervalSec != nil {
		sched.IntervalSec = *req.IntervalSec
		recompute = true
	}
	if req.Timezone != nil {
		sched.Timezone = *req.Timezone
		recompute = true
	}
	if req.Enabled != nil {
		if *req.Enabled && !sched.Enabled {
			recompute = true
		}
		sched.Enabled = *req.Enabled
	}

	if sched.CronExpr == "" && sched.IntervalSec <= 0 {
		BadRequest(w, "either cron_expr or interval_sec is required")
		return
	}

	now := time.Now().UTC()
	if recompute {
		nextDue, err := scheduler.CalculateNextDue(sched, now)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		sched.NextDueAt = &nextDue
	}
	sched.UpdatedAt = now

	if HandleRepoError(w, h.logger, h.scheduleRepo.Update(r.Context(), sched), "schedule not found") {
		return
	}

	Success(w, ScheduleFromDomain(sched))
}
