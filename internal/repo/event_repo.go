package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Dossier/internal/domain"
)

const eventColumns = `event_id, run_id, subagent_run_id, event_type, message, occurred_at, sequence_id`

// EventRepo — репозиторий append-only event log.
//
// Вставка идемпотентна по event_id: повторная доставка того же логического
// события — тихий no-op, не ошибка. Именно это делает at-least-once
// producer'ов безопасными. sequence_id назначает БД; полный порядок внутри
// run — (occurred_at, sequence_id).
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// AppendTx вставляет событие внутри транзакции перехода состояния.
//
// Возвращает true, если событие новое, false — если event_id уже был
// записан (replay). Вызывается только в одной транзакции с conditional
// update самого перехода.
func (r *EventRepo) AppendTx(ctx context.Context, tx pgx.Tx, e *domain.RunEvent) (bool, error) {
	query := `
		INSERT INTO run_events (event_id, run_id, subagent_run_id, event_type, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, query,
		e.EventID,
		e.RunID,
		nullUUID(e.SubagentRunID),
		e.Type,
		nullString(e.Message),
		e.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Append вставляет событие вне транзакции (для replay-продьюсеров).
func (r *EventRepo) Append(ctx context.Context, e *domain.RunEvent) (bool, error) {
	query := `
		INSERT INTO run_events (event_id, run_id, subagent_run_id, event_type, message, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		e.EventID,
		e.RunID,
		nullUUID(e.SubagentRunID),
		e.Type,
		nullString(e.Message),
		e.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOrdered возвращает полную историю run в порядке (occurred_at, sequence_id).
func (r *EventRepo) ListOrdered(ctx context.Context, runID uuid.UUID) ([]domain.RunEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM run_events
		WHERE run_id = $1
		ORDER BY occurred_at ASC, sequence_id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListPage возвращает страницу событий после курсора (keyset-пагинация).
//
// Предикат "строго после (occurred_at, sequence_id)" устойчив к
// конкурентным вставкам: последовательные страницы воспроизводят
// ListOrdered без дубликатов и пропусков. nil cursor — с начала.
// Возвращает события и курсор следующей страницы (nil, если страница
// пустая).
func (r *EventRepo) ListPage(ctx context.Context, runID uuid.UUID, cursor *domain.EventCursor, limit int) ([]domain.RunEvent, *domain.EventCursor, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var rows pgx.Rows
	var err error
	if cursor == nil {
		query := `
			SELECT ` + eventColumns + `
			FROM run_events
			WHERE run_id = $1
			ORDER BY occurred_at ASC, sequence_id ASC
			LIMIT $2
		`
		rows, err = r.pool.Query(ctx, query, runID, limit)
	} else {
		query := `
			SELECT ` + eventColumns + `
			FROM run_events
			WHERE run_id = $1
			  AND (occurred_at > $2 OR (occurred_at = $2 AND sequence_id > $3))
			ORDER BY occurred_at ASC, sequence_id ASC
			LIMIT $4
		`
		rows, err = r.pool.Query(ctx, query, runID, cursor.OccurredAt, cursor.SequenceID, limit)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list events page: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return nil, nil, nil
	}

	last := events[len(events)-1]
	next := &domain.EventCursor{OccurredAt: last.OccurredAt, SequenceID: last.SequenceID}
	return events, next, nil
}

// --- Helpers ---

func collectEvents(rows pgx.Rows) ([]domain.RunEvent, error) {
	var events []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		var message *string

		err := rows.Scan(
			&e.EventID,
			&e.RunID,
			&e.SubagentRunID,
			&e.Type,
			&message,
			&e.OccurredAt,
			&e.SequenceID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if message != nil {
			e.Message = *message
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
