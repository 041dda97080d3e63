package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
)

// IngestExecutor сохраняет извлечённый документ.
//
// Payload ingestion job:
//
//	{"briefing_id": "<uuid>", "url": "...", "title": "...",
//	 "content": "...", "fetched_at": "<RFC3339>"}
type IngestExecutor struct {
	docs   *repo.DocumentRepo
	logger *slog.Logger
}

// NewIngestExecutor создаёт executor очереди ingestion.
func NewIngestExecutor(docs *repo.DocumentRepo, logger *slog.Logger) *IngestExecutor {
	return &IngestExecutor{docs: docs, logger: logger}
}

// Execute сохраняет документ в хранилище.
func (e *IngestExecutor) Execute(ctx context.Context, job *domain.Job) error {
	briefingID, err := payloadUUID(job.Payload, "briefing_id")
	if err != nil {
		return err
	}

	url, _ := job.Payload["url"].(string)
	content, _ := job.Payload["content"].(string)
	title, _ := job.Payload["title"].(string)
	if url == "" || content == "" {
		return fmt.Errorf("%w: url and content are required", ErrBadPayload)
	}

	fetchedAt := time.Now().UTC()
	if raw, _ := job.Payload["fetched_at"].(string); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			fetchedAt = t
		}
	}

	doc := &domain.Document{
		ID:         uuid.New(),
		BriefingID: briefingID,
		URL:        url,
		Title:      title,
		Content:    content,
		FetchedAt:  fetchedAt,
	}

	if err := e.docs.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("store document: %w", err)
	}

	e.logger.Info("document ingested",
		"briefing_id", briefingID,
		"url", url,
		"chars", len(content),
	)
	return nil
}
