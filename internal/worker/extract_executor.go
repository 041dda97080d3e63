package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/extract"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
)

// ExtractExecutor скачивает источник и ставит ingestion job.
//
// Payload extraction job:
//
//	{"briefing_id": "<uuid>", "url": "https://..."}
//
// Успешное извлечение ставит ingestion job с тем же subject_id
// и извлечённым контентом в payload.
type ExtractExecutor struct {
	extractor   extract.Extractor
	ingestion   *repo.JobRepo
	publisher   *mq.Publisher
	maxAttempts int
	logger      *slog.Logger
}

// NewExtractExecutor создаёт executor очереди extraction.
// maxAttempts задаёт предел попыток ставящихся ingestion jobs.
func NewExtractExecutor(extractor extract.Extractor, ingestion *repo.JobRepo, publisher *mq.Publisher, maxAttempts int, logger *slog.Logger) *ExtractExecutor {
	return &ExtractExecutor{
		extractor:   extractor,
		ingestion:   ingestion,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Execute извлекает контент и ставит ingestion job.
func (e *ExtractExecutor) Execute(ctx context.Context, job *domain.Job) error {
	url, _ := job.Payload["url"].(string)
	briefingID, err := payloadUUID(job.Payload, "briefing_id")
	if err != nil {
		return err
	}
	if url == "" {
		return fmt.Errorf("%w: url is required", ErrBadPayload)
	}

	result, err := e.extractor.Extract(ctx, url)
	if err != nil {
		return fmt.Errorf("extract %s: %w", url, err)
	}

	next, err := e.ingestion.Enqueue(ctx, job.SubjectID, map[string]any{
		"briefing_id": briefingID.String(),
		"url":         result.URL,
		"title":       result.Title,
		"content":     result.Text,
		"fetched_at":  result.FetchedAt.Format(time.RFC3339),
	}, e.maxAttempts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue ingestion job: %w", err)
	}

	e.logger.Info("source extracted",
		"url", url,
		"title", result.Title,
		"chars", len(result.Text),
		"ingestion_job_id", next.ID,
	)

	if e.publisher != nil {
		if err := e.publisher.PublishJobReady(ctx, next.ID, string(domain.QueueIngestion)); err != nil {
			// Не фатально: polling fallback подхватит job
			e.logger.Warn("failed to publish job.ready", "job_id", next.ID, "error", err)
		}
	}

	return nil
}

// payloadUUID достаёт UUID-поле из payload.
func payloadUUID(payload map[string]any, key string) (uuid.UUID, error) {
	raw, _ := payload[key].(string)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", ErrBadPayload, key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, key, err)
	}
	return id, nil
}
