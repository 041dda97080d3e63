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

const synthesisColumns = `id, run_id, status, output, error, started_at, ended_at, created_at`

// SynthesisRepo — репозиторий synthesis runs (ровно один на BriefingRun).
type SynthesisRepo struct {
	pool *pgxpool.Pool
}

// NewSynthesisRepo создаёт новый SynthesisRepo.
func NewSynthesisRepo(pool *pgxpool.Pool) *SynthesisRepo {
	return &SynthesisRepo{pool: pool}
}

// CreateTx вставляет synthesis run внутри транзакции.
func (r *SynthesisRepo) CreateTx(ctx context.Context, tx pgx.Tx, s *domain.SynthesisRun) error {
	query := `
		INSERT INTO synthesis_runs (id, run_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := tx.Exec(ctx, query, s.ID, s.RunID, s.Status, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert synthesis: %w", err)
	}
	return nil
}

// GetByRun возвращает synthesis run по run_id.
func (r *SynthesisRepo) GetByRun(ctx context.Context, runID uuid.UUID) (*domain.SynthesisRun, error) {
	query := `SELECT ` + synthesisColumns + ` FROM synthesis_runs WHERE run_id = $1`
	return scanSynthesis(r.pool.QueryRow(ctx, query, runID))
}

// TransitionTx выполняет переход состояния synthesis внутри транзакции.
//
// NOT_STARTED → RUNNING работает как lease-claim кворума: при нескольких
// координаторах synthesis стартует ровно один раз.
func (r *SynthesisRepo) TransitionTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, from, to domain.SynthesisStatus, output, errMsg string, now time.Time) error {
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{Entity: "synthesis", From: string(from), To: string(to)}
	}

	var startedAt, endedAt *time.Time
	if to == domain.SynthesisStatusRunning {
		startedAt = &now
	}
	if to.IsTerminal() {
		endedAt = &now
	}

	query := `
		UPDATE synthesis_runs
		SET status = $3,
		    output = COALESCE($4, output),
		    error = COALESCE($5, error),
		    started_at = COALESCE($6, started_at),
		    ended_at = $7
		WHERE run_id = $1 AND status = $2
	`
	tag, err := tx.Exec(ctx, query, runID, from, to, nullString(output), nullString(errMsg), startedAt, endedAt)
	if err != nil {
		return fmt.Errorf("transition synthesis %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.InvalidTransitionError{Entity: "synthesis", From: string(from), To: string(to)}
	}
	return nil
}

// --- Helpers ---

func scanSynthesis(row pgx.Row) (*domain.SynthesisRun, error) {
	var s domain.SynthesisRun
	var output, sErr *string

	err := row.Scan(
		&s.ID,
		&s.RunID,
		&s.Status,
		&output,
		&sErr,
		&s.StartedAt,
		&s.EndedAt,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan synthesis: %w", err)
	}

	if output != nil {
		s.Output = *output
	}
	if sErr != nil {
		s.Error = *sErr
	}
	return &s, nil
}
