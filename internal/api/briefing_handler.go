package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
)

// validatePersonas проверяет план briefing: непустой набор personas
// с уникальными ключами.
func validatePersonas(personas []domain.PersonaSpec) error {
	if len(personas) == 0 {
		return fmt.Errorf("at least one persona is required")
	}
	seen := make(map[string]bool, len(personas))
	for _, p := range personas {
		if p.Key == "" {
			return fmt.Errorf("persona key must not be empty")
		}
		if seen[p.Key] {
			return fmt.Errorf("duplicate persona key %q", p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// CreateBriefing создаёт новый briefing.
// POST /api/v1/briefings
func (h *Handler) CreateBriefing(w http.ResponseWriter, r *http.Request) {
	var req CreateBriefingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if err := validatePersonas(req.Personas); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.RequiredForSynthesis < 0 || req.RequiredForSynthesis > len(req.Personas) {
		BadRequest(w, "required_for_synthesis must be between 0 and the number of personas")
		return
	}

	now := time.Now().UTC()
	briefing := &domain.Briefing{
		ID:                   uuid.New(),
		Name:                 req.Name,
		PlanVersion:          1,
		Personas:             req.Personas,
		RequiredForSynthesis: req.RequiredForSynthesis,
		IsActive:             true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if HandleRepoError(w, h.logger, h.briefingRepo.Create(r.Context(), briefing), "") {
		return
	}

	h.logger.Info("briefing created", "briefing_id", briefing.ID, "name", briefing.Name)
	Created(w, BriefingFromDomain(briefing))
}

// GetBriefing возвращает briefing по ID.
// GET /api/v1/briefings/{id}
func (h *Handler) GetBriefing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	briefing, err := h.briefingRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	Success(w, BriefingFromDomain(briefing))
}

// ListBriefings возвращает список briefings.
// GET /api/v1/briefings?limit=...
func (h *Handler) ListBriefings(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)

	briefings, err := h.briefingRepo.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]BriefingResponse, len(briefings))
	for i := range briefings {
		result[i] = BriefingFromDomain(&briefings[i])
	}

	List(w, result, len(result))
}

// UpdateBriefing обновляет briefing.
//
// Правка personas или кворума создаёт новую версию плана: активные runs
// продолжают работать со своей версией, новая действует со следующего run.
// PUT /api/v1/briefings/{id}
func (h *Handler) UpdateBriefing(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	var req UpdateBriefingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	briefing, err := h.briefingRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	planChanged := false

	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(w, "name must not be empty")
			return
		}
		briefing.Name = *req.Name
	}
	if req.Personas != nil {
		if err := validatePersonas(*req.Personas); err != nil {
			BadRequest(w, err.Error())
			return
		}
		briefing.Personas = *req.Personas
		planChanged = true
	}
	if req.RequiredForSynthesis != nil {
		if *req.RequiredForSynthesis < 0 || *req.RequiredForSynthesis > len(briefing.Personas) {
			BadRequest(w, "required_for_synthesis must be between 0 and the number of personas")
			return
		}
		briefing.RequiredForSynthesis = *req.RequiredForSynthesis
		planChanged = true
	}
	if req.IsActive != nil {
		briefing.IsActive = *req.IsActive
	}

	if planChanged {
		briefing.PlanVersion++
	}
	briefing.UpdatedAt = time.Now().UTC()

	if HandleRepoError(w, h.logger, h.briefingRepo.Update(r.Context(), briefing), "briefing not found") {
		return
	}

	Success(w, BriefingFromDomain(briefing))
}

// ListBriefingDocuments возвращает извлечённые документы briefing.
// GET /api/v1/briefings/{id}/documents?limit=...
func (h *Handler) ListBriefingDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	if _, err := h.briefingRepo.GetByID(r.Context(), id); HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	docs, err := h.documentRepo.ListByBriefing(r.Context(), id, queryInt(r, "limit", 50))
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DocumentResponse, len(docs))
	for i := range docs {
		result[i] = DocumentFromDomain(&docs[i])
	}

	List(w, result, len(result))
}

// queryInt разбирает числовой query-параметр с дефолтным значением.
func queryInt(r *http.Request, name string, defaultVal int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
