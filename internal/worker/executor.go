package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Dossier/internal/domain"
)

// Executor выполняет работу одного job.
//
// Возвращённая ошибка классифицируется воркером: permanent ведёт
// сразу в FAILED, transient — в RETRY с backoff.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// Registry — реестр executor'ов по имени очереди.
type Registry struct {
	executors map[domain.QueueName]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.QueueName]Executor)}
}

// Register добавляет executor для очереди.
func (r *Registry) Register(queue domain.QueueName, executor Executor) {
	r.executors[queue] = executor
}

// Get возвращает executor для очереди.
func (r *Registry) Get(queue domain.QueueName) (Executor, error) {
	executor, ok := r.executors[queue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return executor, nil
}
