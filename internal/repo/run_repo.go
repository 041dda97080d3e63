package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Dossier/internal/domain"
)

const runColumns = `id, briefing_id, plan_version, execution_fingerprint, status,
	       total_personas, required_for_synthesis, error, started_at, ended_at, created_at`

// RunRepo — репозиторий briefing runs.
//
// Единственный путь мутации статуса — TransitionTx: conditional update,
// защищённый таблицей переходов в коде и guard'ом WHERE status = from в БД.
// Инвариант "не более одного активного run на briefing" обеспечивает
// partial unique index (см. schema.sql), а не проверка перед insert.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// CreateTx вставляет run внутри транзакции.
//
// Конфликт partial unique index'а активных runs маппится в
// ErrActiveRunExists — это штатный исход гонки двух создателей.
func (r *RunRepo) CreateTx(ctx context.Context, tx pgx.Tx, run *domain.BriefingRun) error {
	query := `
		INSERT INTO briefing_runs (id, briefing_id, plan_version, execution_fingerprint,
		                           status, total_personas, required_for_synthesis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		run.ID,
		run.BriefingID,
		run.PlanVersion,
		run.ExecutionFingerprint,
		run.Status,
		run.TotalPersonas,
		run.RequiredForSynthesis,
		run.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrActiveRunExists
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BriefingRun, error) {
	query := `SELECT ` + runColumns + ` FROM briefing_runs WHERE id = $1`
	return scanRun(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByBriefing возвращает незавершённый run briefing'а, если есть.
func (r *RunRepo) GetActiveByBriefing(ctx context.Context, briefingID uuid.UUID) (*domain.BriefingRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM briefing_runs
		WHERE briefing_id = $1 AND status NOT IN ('SUCCEEDED', 'FAILED', 'CANCELLED')
	`
	return scanRun(r.pool.QueryRow(ctx, query, briefingID))
}

// GetByFingerprint возвращает run по execution fingerprint.
// Используется scheduler'ом для идемпотентности scheduled-запусков.
func (r *RunRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.BriefingRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM briefing_runs
		WHERE execution_fingerprint = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanRun(r.pool.QueryRow(ctx, query, fingerprint))
}

// ListByStatus возвращает runs в указанном статусе (старые — первыми).
// Координатор использует это как polling fallback для QUEUED runs.
func (r *RunRepo) ListByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.BriefingRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM briefing_runs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()

	var runs []domain.BriefingRun
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListByBriefing возвращает историю runs briefing'а (новые — первыми).
func (r *RunRepo) ListByBriefing(ctx context.Context, briefingID uuid.UUID, limit int) ([]domain.BriefingRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM briefing_runs
		WHERE briefing_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, briefingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by briefing: %w", err)
	}
	defer rows.Close()

	var runs []domain.BriefingRun
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// TransitionTx выполняет переход состояния run внутри транзакции.
//
// Переход сначала сверяется с таблицей переходов, затем применяется
// conditional update'ом: WHERE status = from перепроверяет precondition
// атомарно с записью. Ноль затронутых строк означает гонку — кто-то
// успел изменить статус — и возвращается как InvalidTransitionError.
// ended_at выставляется тогда и только тогда, когда to терминальный.
func (r *RunRepo) TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.RunStatus, errMsg string, now time.Time) error {
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{Entity: "run", From: string(from), To: string(to)}
	}

	var startedAt, endedAt *time.Time
	if to == domain.RunStatusRunning {
		startedAt = &now
	}
	if to.IsTerminal() {
		endedAt = &now
	}

	query := `
		UPDATE briefing_runs
		SET status = $3,
		    error = COALESCE($4, error),
		    started_at = COALESCE($5, started_at),
		    ended_at = $6
		WHERE id = $1 AND status = $2
	`
	tag, err := tx.Exec(ctx, query, id, from, to, nullString(errMsg), startedAt, endedAt)
	if err != nil {
		return fmt.Errorf("transition run %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.InvalidTransitionError{Entity: "run", From: string(from), To: string(to)}
	}
	return nil
}

// --- Helpers ---

func scanRun(row pgx.Row) (*domain.BriefingRun, error) {
	var run domain.BriefingRun
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.BriefingID,
		&run.PlanVersion,
		&run.ExecutionFingerprint,
		&run.Status,
		&run.TotalPersonas,
		&run.RequiredForSynthesis,
		&runError,
		&run.StartedAt,
		&run.EndedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if runError != nil {
		run.Error = *runError
	}
	return &run, nil
}

func scanRunRows(rows pgx.Rows) (*domain.BriefingRun, error) {
	return scanRun(rows)
}
