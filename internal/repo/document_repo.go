package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dossier/internal/domain"
)

const documentColumns = `id, briefing_id, url, title, content, fetched_at, created_at`

// DocumentRepo — репозиторий извлечённых документов.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo создаёт DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Upsert сохраняет документ. Повторная загрузка того же URL
// для briefing перезаписывает содержимое.
func (r *DocumentRepo) Upsert(ctx context.Context, d *domain.Document) error {
	query := `
		INSERT INTO documents (id, briefing_id, url, title, content, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (briefing_id, url) DO UPDATE SET
			title      = EXCLUDED.title,
			content    = EXCLUDED.content,
			fetched_at = EXCLUDED.fetched_at`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.BriefingID, d.URL, nullString(d.Title), d.Content, d.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// ListByBriefing возвращает документы briefing, свежие первыми.
func (r *DocumentRepo) ListByBriefing(ctx context.Context, briefingID uuid.UUID, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE briefing_id = $1
		ORDER BY fetched_at DESC
		LIMIT $2`, documentColumns)

	rows, err := r.pool.Query(ctx, query, briefingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		var title *string
		if err := rows.Scan(&d.ID, &d.BriefingID, &d.URL, &title, &d.Content, &d.FetchedAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if title != nil {
			d.Title = *title
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountByBriefing возвращает число документов briefing.
func (r *DocumentRepo) CountByBriefing(ctx context.Context, briefingID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE briefing_id = $1`, briefingID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}
