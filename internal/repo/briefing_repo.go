package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Dossier/internal/domain"
)

const briefingColumns = `id, name, plan_version, personas, required_for_synthesis,
	       is_active, created_at, updated_at`

// BriefingRepo — репозиторий briefings.
//
// CRUD briefings живёт в API-слое и здесь представлен минимально:
// координатору и scheduler'у нужны только чтение плана и создание
// записей из CLI/тестовых сценариев.
type BriefingRepo struct {
	pool *pgxpool.Pool
}

// NewBriefingRepo создаёт новый BriefingRepo.
func NewBriefingRepo(pool *pgxpool.Pool) *BriefingRepo {
	return &BriefingRepo{pool: pool}
}

// Create создаёт новый briefing.
func (r *BriefingRepo) Create(ctx context.Context, b *domain.Briefing) error {
	personasJSON, err := json.Marshal(b.Personas)
	if err != nil {
		return fmt.Errorf("marshal personas: %w", err)
	}

	query := `
		INSERT INTO briefings (id, name, plan_version, personas, required_for_synthesis, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		b.ID, b.Name, b.PlanVersion, personasJSON, b.RequiredForSynthesis, b.IsActive, b.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert briefing: %w", err)
	}
	return nil
}

// GetByID возвращает briefing по ID.
func (r *BriefingRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Briefing, error) {
	query := `SELECT ` + briefingColumns + ` FROM briefings WHERE id = $1`
	return scanBriefing(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает briefing по имени.
func (r *BriefingRepo) GetByName(ctx context.Context, name string) (*domain.Briefing, error) {
	query := `SELECT ` + briefingColumns + ` FROM briefings WHERE name = $1`
	return scanBriefing(r.pool.QueryRow(ctx, query, name))
}

// List возвращает briefings (новые — первыми).
func (r *BriefingRepo) List(ctx context.Context, limit int) ([]domain.Briefing, error) {
	query := `
		SELECT ` + briefingColumns + `
		FROM briefings
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list briefings: %w", err)
	}
	defer rows.Close()

	var out []domain.Briefing
	for rows.Next() {
		b, err := scanBriefing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Update сохраняет изменённый briefing (план, кворум, is_active).
//
// Правка personas должна сопровождаться инкрементом plan_version на
// стороне вызывающего: активные runs держат свою версию плана.
func (r *BriefingRepo) Update(ctx context.Context, b *domain.Briefing) error {
	personasJSON, err := json.Marshal(b.Personas)
	if err != nil {
		return fmt.Errorf("marshal personas: %w", err)
	}

	query := `
		UPDATE briefings
		SET name = $2, plan_version = $3, personas = $4,
		    required_for_synthesis = $5, is_active = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		b.ID, b.Name, b.PlanVersion, personasJSON, b.RequiredForSynthesis, b.IsActive, b.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update briefing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func scanBriefing(row pgx.Row) (*domain.Briefing, error) {
	var b domain.Briefing
	var personasJSON []byte

	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.PlanVersion,
		&personasJSON,
		&b.RequiredForSynthesis,
		&b.IsActive,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan briefing: %w", err)
	}

	if personasJSON != nil {
		if err := json.Unmarshal(personasJSON, &b.Personas); err != nil {
			return nil, fmt.Errorf("unmarshal personas: %w", err)
		}
	}
	return &b, nil
}
