package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
)

// defaultExtractionAttempts — предел попыток extraction job.
// Сетевые источники шумные, даём больше ретраев, чем ingestion.
const defaultExtractionAttempts = 5

// EnqueueExtraction ставит extraction job для источника briefing.
//
// Subject — детерминированный UUID от (briefing, url): повторная
// постановка того же источника не плодит дубликатов, а сбрасывает
// существующий job в PENDING.
// POST /api/v1/briefings/{id}/sources
func (h *Handler) EnqueueExtraction(w http.ResponseWriter, r *http.Request) {
	briefingID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid briefing id")
		return
	}

	var req EnqueueExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		BadRequest(w, "url must be absolute")
		return
	}

	if _, err := h.briefingRepo.GetByID(r.Context(), briefingID); HandleRepoError(w, h.logger, err, "briefing not found") {
		return
	}

	subjectID := uuid.NewSHA1(briefingID, []byte(req.URL))
	payload := map[string]any{
		"briefing_id": briefingID.String(),
		"url":         req.URL,
	}

	job, err := h.extractionRepo.Enqueue(r.Context(), subjectID, payload, defaultExtractionAttempts, time.Now().UTC())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	h.notifyJobReady(r, job.ID, h.extractionRepo.Queue())

	h.logger.Info("extraction job enqueued",
		"job_id", job.ID, "briefing_id", briefingID, "url", req.URL)
	Created(w, JobFromDomain(job, h.extractionRepo.Queue()))
}

// GetJob возвращает job по очереди и ID.
// GET /api/v1/jobs/{queue}/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobRepo := h.queueRepo(r.PathValue("queue"))
	if jobRepo == nil {
		BadRequest(w, "unknown queue")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	Success(w, JobFromDomain(job, jobRepo.Queue()))
}

// RetryJob перезапускает job.
//
// Enqueue по subject идемпотентен: возврат в PENDING обнуляет attempts,
// снимает lease и чистит ошибку. Перезапуск разрешён только для FAILED —
// живые jobs и так дойдут до исхода сами.
// POST /api/v1/jobs/{queue}/{id}/retry
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobRepo := h.queueRepo(r.PathValue("queue"))
	if jobRepo == nil {
		BadRequest(w, "unknown queue")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return
	}

	job, err := jobRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "job not found") {
		return
	}

	if job.Status != domain.JobStatusFailed {
		InvalidState(w, "only failed jobs can be retried")
		return
	}

	retried, err := jobRepo.Enqueue(r.Context(), job.SubjectID, job.Payload, job.MaxAttempts, time.Now().UTC())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	h.notifyJobReady(r, retried.ID, jobRepo.Queue())

	h.logger.Info("job retried", "job_id", retried.ID, "queue", jobRepo.Queue())
	Success(w, JobFromDomain(retried, jobRepo.Queue()))
}

// queueRepo возвращает репозиторий очереди по её имени из пути.
func (h *Handler) queueRepo(queue string) *repo.JobRepo {
	switch domain.QueueName(queue) {
	case domain.QueueExtraction:
		return h.extractionRepo
	case domain.QueueIngestion:
		return h.ingestionRepo
	default:
		return nil
	}
}

// notifyJobReady публикует job.ready, если MQ доступен.
// Ошибка публикации не фатальна: worker подберёт job через poll.
func (h *Handler) notifyJobReady(r *http.Request, jobID uuid.UUID, queue domain.QueueName) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.PublishJobReady(r.Context(), jobID, string(queue)); err != nil {
		h.logger.Warn("failed to publish job.ready",
			"job_id", jobID, "queue", queue, "error", err)
	}
}
