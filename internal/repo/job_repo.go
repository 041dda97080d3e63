package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Dossier/internal/domain"
)

const jobColumns = `id, subject_id, status, attempts, max_attempts, next_attempt_at,
	       locked_at, lock_owner, last_error, payload, created_at, updated_at`

// JobRepo — репозиторий одной очереди jobs (extraction или ingestion).
//
// Обе очереди имеют одинаковую схему и одинаковую lease-семантику;
// репозиторий параметризован именем таблицы. Все мутации — conditional
// updates: WHERE-клауза перепроверяет precondition атомарно с записью,
// поэтому двойной захват одного job невозможен.
type JobRepo struct {
	pool  *pgxpool.Pool
	table string
	queue domain.QueueName
}

// NewJobRepo создаёт репозиторий для указанной очереди.
func NewJobRepo(pool *pgxpool.Pool, queue domain.QueueName) *JobRepo {
	table := "extraction_jobs"
	if queue == domain.QueueIngestion {
		table = "ingestion_jobs"
	}
	return &JobRepo{pool: pool, table: table, queue: queue}
}

// Queue возвращает имя очереди.
func (r *JobRepo) Queue() domain.QueueName {
	return r.queue
}

// Enqueue создаёт job для subject или сбрасывает существующий в PENDING.
//
// Идемпотентность per subject: повторный вызов не создаёт дубликата, а
// обнуляет attempts, снимает lease и чистит last_error. Это делает
// "retry extraction" и "replay ingestion" безопасными для повторных вызовов.
func (r *JobRepo) Enqueue(ctx context.Context, subjectID uuid.UUID, payload map[string]any, maxAttempts int, now time.Time) (*domain.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, subject_id, status, attempts, max_attempts, next_attempt_at, payload, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $7)
		ON CONFLICT (subject_id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			next_attempt_at = EXCLUDED.next_attempt_at,
			locked_at = NULL,
			lock_owner = NULL,
			last_error = NULL,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
		RETURNING `+jobColumns, r.table)

	return r.scanJob(r.pool.QueryRow(ctx, query,
		uuid.New(),
		subjectID,
		domain.JobStatusPending,
		maxAttempts,
		now,
		payloadJSON,
		now,
	))
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM %s WHERE id = $1`, r.table)
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// ClaimDue возвращает ID jobs, готовых к захвату (due и не claimed).
//
// Это первый шаг двухфазного claim: выборка кандидатов без блокировок,
// затем compare-and-swap через TryClaim по каждому ID.
func (r *JobRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`
		SELECT id FROM %s
		WHERE status = ANY($1) AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`, r.table)

	rows, err := r.pool.Query(ctx, query,
		[]string{string(domain.JobStatusPending), string(domain.JobStatusRetry)},
		now,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TryClaim пытается захватить job: conditional update, который проходит
// только если job всё ещё в одном из fromStatuses и due.
//
// Возвращает (nil, false, nil) при проигранной гонке — это штатная
// ситуация, не ошибка: другой worker успел первым.
func (r *JobRepo) TryClaim(ctx context.Context, id uuid.UUID, fromStatuses []domain.JobStatus, owner string, now time.Time) (*domain.Job, bool, error) {
	from := make([]string, len(fromStatuses))
	for i, s := range fromStatuses {
		from[i] = string(s)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $4, locked_at = $3, lock_owner = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($5) AND next_attempt_at <= $3
		RETURNING `+jobColumns, r.table)

	job, err := r.scanJob(r.pool.QueryRow(ctx, query, id, owner, now, domain.JobStatusProcessing, from))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Complete переводит job в SUCCEEDED и снимает lease.
func (r *JobRepo) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, locked_at = NULL, lock_owner = NULL, last_error = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`, r.table)

	tag, err := r.pool.Exec(ctx, query, id, domain.JobStatusSucceeded, now, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// RetryOrFail обрабатывает transient-ошибку выполнения.
//
// Если попытки остались: RETRY, attempts+1, next_attempt_at сдвигается
// по exponential backoff. Иначе: FAILED. В обоих случаях lease снимается,
// текст ошибки сохраняется. Возвращает новый статус.
func (r *JobRepo) RetryOrFail(ctx context.Context, id uuid.UUID, errMsg string, backoff time.Duration, now time.Time) (domain.JobStatus, error) {
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	status := domain.JobStatusRetry
	nextAttempt := now.Add(backoff)
	if job.AttemptsExhausted() {
		status = domain.JobStatusFailed
		nextAttempt = now
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, attempts = attempts + 1, next_attempt_at = $3,
		    locked_at = NULL, lock_owner = NULL, last_error = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`, r.table)

	tag, err := r.pool.Exec(ctx, query, id, status, nextAttempt, errMsg, now, domain.JobStatusProcessing)
	if err != nil {
		return "", fmt.Errorf("retry or fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrInvalidState
	}
	return status, nil
}

// Fail переводит job сразу в FAILED, не расходуя попытки.
//
// Используется для permanent-ошибок (невалидный вход, неподдерживаемый
// формат): retry там не поможет.
func (r *JobRepo) Fail(ctx context.Context, id uuid.UUID, errMsg string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $2, locked_at = NULL, lock_owner = NULL, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, r.table)

	tag, err := r.pool.Exec(ctx, query, id, domain.JobStatusFailed, errMsg, now, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ReclaimStale возвращает в RETRY jobs, застрявшие в PROCESSING.
//
// Это механизм истечения lease: heartbeat'а нет, единственный сигнал —
// давность locked_at. Вызывается периодическим sweep'ом scheduler'а.
func (r *JobRepo) ReclaimStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, next_attempt_at = $2, locked_at = NULL, lock_owner = NULL, updated_at = $2
		WHERE status = $3 AND locked_at <= $4
	`, r.table)

	tag, err := r.pool.Exec(ctx, query, domain.JobStatusRetry, now, domain.JobStatusProcessing, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByStatus возвращает количество jobs в статусе.
func (r *JobRepo) CountByStatus(ctx context.Context, status domain.JobStatus) (int, error) {
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE status = $1`, r.table)
	if err := r.pool.QueryRow(ctx, query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// --- Helpers ---

// scanJob сканирует одну строку в Job.
func (r *JobRepo) scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var payloadJSON []byte
	var lockOwner, lastError *string

	err := row.Scan(
		&job.ID,
		&job.SubjectID,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.NextAttemptAt,
		&job.LockedAt,
		&lockOwner,
		&lastError,
		&payloadJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if lockOwner != nil {
		job.LockOwner = *lockOwner
	}
	if lastError != nil {
		job.LastError = *lastError
	}

	return &job, nil
}
