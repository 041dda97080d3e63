package worker

import (
	"context"
	"errors"

	"github.com/shaiso/Dossier/internal/ai"
	"github.com/shaiso/Dossier/internal/extract"
)

// Ошибки воркера.
var (
	// ErrJobNotFound — job не найден в БД.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownQueue — нет executor'а для данной очереди.
	ErrUnknownQueue = errors.New("unknown job queue")

	// ErrBadPayload — payload job не содержит обязательных полей.
	// Повторять бессмысленно: payload не изменится.
	ErrBadPayload = errors.New("malformed job payload")
)

// isPermanent решает, имеет ли смысл retry.
//
// Отмена контекста не классифицируется здесь вовсе: прерванный
// shutdown'ом job вернёт себе lease через sweep.
func isPermanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrBadPayload) ||
		errors.Is(err, extract.ErrRejected) ||
		errors.Is(err, ai.ErrBadRequest)
}
