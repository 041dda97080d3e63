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

const subagentColumns = `id, run_id, persona_key, status, attempt, max_attempts,
	       next_attempt_at, output, error, started_at, ended_at, created_at, updated_at`

// SubagentRepo — репозиторий subagent runs.
//
// Диспетчеризация subagent устроена как lease-claim: TryStartTx — это
// conditional update, который пройдёт ровно у одного координатора,
// поэтому двойной запуск одной persona невозможен даже при нескольких
// экземплярах координатора.
type SubagentRepo struct {
	pool *pgxpool.Pool
}

// NewSubagentRepo создаёт новый SubagentRepo.
func NewSubagentRepo(pool *pgxpool.Pool) *SubagentRepo {
	return &SubagentRepo{pool: pool}
}

// CreateBatchTx вставляет subagents одного run внутри транзакции.
// Уникальность (run_id, persona_key) обеспечивает unique constraint.
func (r *SubagentRepo) CreateBatchTx(ctx context.Context, tx pgx.Tx, subs []domain.SubagentRun) error {
	for i := range subs {
		s := &subs[i]
		query := `
			INSERT INTO subagent_runs (id, run_id, persona_key, status, attempt, max_attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`
		_, err := tx.Exec(ctx, query, s.ID, s.RunID, s.PersonaKey, s.Status, s.Attempt, s.MaxAttempts, s.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: subagent %s", ErrAlreadyExists, s.PersonaKey)
		}
		if err != nil {
			return fmt.Errorf("insert subagent %s: %w", s.PersonaKey, err)
		}
	}
	return nil
}

// GetByID возвращает subagent по ID.
func (r *SubagentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.SubagentRun, error) {
	query := `SELECT ` + subagentColumns + ` FROM subagent_runs WHERE id = $1`
	return scanSubagent(r.pool.QueryRow(ctx, query, id))
}

// ListByRun возвращает все subagents run'а.
func (r *SubagentRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.SubagentRun, error) {
	query := `
		SELECT ` + subagentColumns + `
		FROM subagent_runs
		WHERE run_id = $1
		ORDER BY persona_key ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list subagents: %w", err)
	}
	defer rows.Close()

	var subs []domain.SubagentRun
	for rows.Next() {
		sub, err := scanSubagent(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// TryStartTx пытается захватить subagent для выполнения.
//
// Проходит только из PENDING или due RETRY_WAIT; из RETRY_WAIT
// инкрементируется attempt. Guard по статусу родительского run
// встроен в тот же conditional update: после перехода run в
// CANCELLING новые subagents стартовать не могут, даже если
// координатор ещё не увидел флаг. Возвращает (nil, false, nil) при
// проигранной гонке — другой координатор уже захватил этого subagent
// либо run уже не RUNNING.
func (r *SubagentRepo) TryStartTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (*domain.SubagentRun, bool, error) {
	query := `
		UPDATE subagent_runs
		SET status = $2,
		    attempt = CASE WHEN status = $3 THEN attempt + 1 ELSE attempt END,
		    next_attempt_at = NULL,
		    started_at = COALESCE(started_at, $4),
		    updated_at = $4
		WHERE id = $1
		  AND (status = $5 OR (status = $3 AND attempt < max_attempts
		       AND (next_attempt_at IS NULL OR next_attempt_at <= $4)))
		  AND EXISTS (
		      SELECT 1 FROM briefing_runs br
		      WHERE br.id = subagent_runs.run_id AND br.status = $6
		  )
		RETURNING ` + subagentColumns

	sub, err := scanSubagent(tx.QueryRow(ctx, query, id,
		domain.SubagentStatusRunning,
		domain.SubagentStatusRetryWait,
		now,
		domain.SubagentStatusPending,
		domain.RunStatusRunning,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// TransitionTx выполняет переход состояния subagent внутри транзакции.
//
// Семантика идентична RunRepo.TransitionTx: таблица переходов + guard
// WHERE status = from. output/error обновляются только если непустые.
func (r *SubagentRepo) TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.SubagentStatus, output, errMsg string, nextAttemptAt *time.Time, now time.Time) error {
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{Entity: "subagent", From: string(from), To: string(to)}
	}

	var endedAt *time.Time
	if to.IsTerminal() {
		endedAt = &now
	}

	query := `
		UPDATE subagent_runs
		SET status = $3,
		    output = COALESCE($4, output),
		    error = COALESCE($5, error),
		    next_attempt_at = $6,
		    ended_at = $7,
		    updated_at = $8
		WHERE id = $1 AND status = $2
	`
	tag, err := tx.Exec(ctx, query, id, from, to, nullString(output), nullString(errMsg), nextAttemptAt, endedAt, now)
	if err != nil {
		return fmt.Errorf("transition subagent %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.InvalidTransitionError{Entity: "subagent", From: string(from), To: string(to)}
	}
	return nil
}

// CountSuccessLike возвращает число subagents run'а в success-like статусе
// (SUCCEEDED, SKIPPED_NO_OUTPUT) — числитель кворума synthesis.
func (r *SubagentRepo) CountSuccessLike(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM subagent_runs
		WHERE run_id = $1 AND status IN ($2, $3)
	`
	err := r.pool.QueryRow(ctx, query, runID,
		domain.SubagentStatusSucceeded, domain.SubagentStatusSkippedNoOutput,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count success-like subagents: %w", err)
	}
	return count, nil
}

// CountNonTerminal возвращает число ещё не завершённых subagents run'а.
func (r *SubagentRepo) CountNonTerminal(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM subagent_runs
		WHERE run_id = $1 AND status IN ($2, $3, $4)
	`
	err := r.pool.QueryRow(ctx, query, runID,
		domain.SubagentStatusPending, domain.SubagentStatusRunning, domain.SubagentStatusRetryWait,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count non-terminal subagents: %w", err)
	}
	return count, nil
}

// ListStalled возвращает RUNNING subagents без прогресса с staleBefore.
// Используется sweep'ом: тот же механизм истечения lease, что и для jobs.
func (r *SubagentRepo) ListStalled(ctx context.Context, staleBefore time.Time, limit int) ([]domain.SubagentRun, error) {
	query := `
		SELECT ` + subagentColumns + `
		FROM subagent_runs
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, domain.SubagentStatusRunning, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stalled subagents: %w", err)
	}
	defer rows.Close()

	var subs []domain.SubagentRun
	for rows.Next() {
		sub, err := scanSubagent(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// --- Helpers ---

func scanSubagent(row pgx.Row) (*domain.SubagentRun, error) {
	var sub domain.SubagentRun
	var output, subError *string

	err := row.Scan(
		&sub.ID,
		&sub.RunID,
		&sub.PersonaKey,
		&sub.Status,
		&sub.Attempt,
		&sub.MaxAttempts,
		&sub.NextAttemptAt,
		&output,
		&subError,
		&sub.StartedAt,
		&sub.EndedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subagent: %w", err)
	}

	if output != nil {
		sub.Output = *output
	}
	if subError != nil {
		sub.Error = *subError
	}
	return &sub, nil
}
