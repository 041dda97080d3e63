package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Briefings
	mux.Handle("GET /api/v1/briefings", chain(http.HandlerFunc(h.ListBriefings)))
	mux.Handle("POST /api/v1/briefings", chain(http.HandlerFunc(h.CreateBriefing)))
	mux.Handle("GET /api/v1/briefings/{id}", chain(http.HandlerFunc(h.GetBriefing)))
	mux.Handle("PUT /api/v1/briefings/{id}", chain(http.HandlerFunc(h.UpdateBriefing)))
	mux.Handle("GET /api/v1/briefings/{id}/documents", chain(http.HandlerFunc(h.ListBriefingDocuments)))

	// Runs
	mux.Handle("POST /api/v1/briefings/{id}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/briefings/{id}/runs", chain(http.HandlerFunc(h.ListBriefingRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/status", chain(http.HandlerFunc(h.GetRunStatus)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /api/v1/runs/{id}/events", chain(http.HandlerFunc(h.ListRunEvents)))

	// Jobs
	mux.Handle("POST /api/v1/briefings/{id}/sources", chain(http.HandlerFunc(h.EnqueueExtraction)))
	mux.Handle("GET /api/v1/jobs/{queue}/{id}", chain(http.HandlerFunc(h.GetJob)))
	mux.Handle("POST /api/v1/jobs/{queue}/{id}/retry", chain(http.HandlerFunc(h.RetryJob)))

	// Schedules
	mux.Handle("POST /api/v1/briefings/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
}
