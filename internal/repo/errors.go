package repo

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — conditional update не прошёл: строка не в ожидаемом
	// состоянии. Для lease-claim это штатная потеря гонки; для переходов
	// state machine — нарушение инварианта.
	ErrInvalidState = errors.New("invalid state")

	// ErrActiveRunExists — у briefing уже есть незавершённый run
	// (сработал partial unique index).
	ErrActiveRunExists = errors.New("active run already exists for briefing")
)

// uniqueViolation — код Postgres для нарушения unique constraint.
const uniqueViolation = "23505"

// isUniqueViolation проверяет, что ошибка — конфликт уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Helpers для NULL-колонок ---

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID возвращает nil для пустого UUID.
func nullUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil || *id == uuid.Nil {
		return nil
	}
	return id
}
