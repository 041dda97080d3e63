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

const scheduleColumns = `id, briefing_id, cron_expr, interval_sec, timezone, enabled,
	       next_due_at, last_run_at, last_run_id, created_at, updated_at`

// ScheduleRepo — репозиторий briefing schedules.
type ScheduleRepo struct {
	pool *pgxpool.Pool
}

// NewScheduleRepo создаёт новый ScheduleRepo.
func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

// Create создаёт новый schedule.
func (r *ScheduleRepo) Create(ctx context.Context, s *domain.BriefingSchedule) error {
	query := `
		INSERT INTO briefing_schedules (id, briefing_id, cron_expr, interval_sec, timezone,
		                                enabled, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.BriefingID,
		nullString(s.CronExpr),
		s.IntervalSec,
		s.Timezone,
		s.Enabled,
		s.NextDueAt,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetByID возвращает schedule по ID.
func (r *ScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.BriefingSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM briefing_schedules WHERE id = $1`
	return scanSchedule(r.pool.QueryRow(ctx, query, id))
}

// ListDue возвращает включённые schedules с next_due_at <= now.
func (r *ScheduleRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.BriefingSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM briefing_schedules
		WHERE enabled = TRUE AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []domain.BriefingSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// Update перезаписывает изменяемые поля schedule целиком: и план
// запуска (cron/interval/timezone), и состояние после срабатывания.
func (r *ScheduleRepo) Update(ctx context.Context, s *domain.BriefingSchedule) error {
	query := `
		UPDATE briefing_schedules
		SET cron_expr = $2, interval_sec = $3, timezone = $4, enabled = $5,
		    next_due_at = $6, last_run_at = $7, last_run_id = $8, updated_at = $9
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		s.ID, s.CronExpr, s.IntervalSec, s.Timezone, s.Enabled,
		s.NextDueAt, s.LastRunAt, nullUUID(s.LastRunID), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func scanSchedule(row pgx.Row) (*domain.BriefingSchedule, error) {
	var s domain.BriefingSchedule
	var cronExpr *string
	var intervalSec *int

	err := row.Scan(
		&s.ID,
		&s.BriefingID,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&s.Enabled,
		&s.NextDueAt,
		&s.LastRunAt,
		&s.LastRunID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if cronExpr != nil {
		s.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		s.IntervalSec = *intervalSec
	}
	return &s, nil
}
