package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueName — имя очереди jobs. Каждая очередь — отдельная таблица
// с одинаковой схемой и одинаковой lease-семантикой.
type QueueName string

const (
	// QueueExtraction — извлечение контента источников (HTTP, transcripts).
	QueueExtraction QueueName = "extraction"

	// QueueIngestion — обработка входящих сообщений.
	QueueIngestion QueueName = "ingestion"
)

// Job — единица фоновой работы с lease-семантикой.
//
// Job создаётся producer'ом (API handler) в статусе PENDING и захватывается
// worker'ом через conditional update (tryClaim). Lease — это сама строка job:
// пара (locked_at, lock_owner) либо оба NULL, либо оба заполнены.
// Heartbeat'а нет — застрявшие PROCESSING jobs возвращает в RETRY
// периодический reclaim sweep по порогу давности locked_at.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// SubjectID — идентификатор upstream-сущности (source, inbound message).
	// Ровно один job на subject: повторный enqueue сбрасывает существующий.
	SubjectID uuid.UUID `json:"subject_id"`

	// Status — текущий статус.
	Status JobStatus `json:"status"`

	// Attempts — число сделанных попыток.
	Attempts int `json:"attempts"`

	// MaxAttempts — предел попыток, после которого job уходит в FAILED.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt — время, раньше которого job не подлежит claim.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LockedAt — время захвата lease. Nil, если job не захвачен.
	LockedAt *time.Time `json:"locked_at,omitempty"`

	// LockOwner — идентификатор worker'а, держащего lease.
	LockOwner string `json:"lock_owner,omitempty"`

	// LastError — текст последней ошибки выполнения.
	LastError string `json:"last_error,omitempty"`

	// Payload — параметры единицы работы (URL источника и т.п.).
	Payload map[string]any `json:"payload,omitempty"`

	// CreatedAt — время создания job.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// IsClaimed возвращает true, если lease активен.
func (j *Job) IsClaimed() bool {
	return j.LockedAt != nil && j.LockOwner != ""
}

// AttemptsExhausted возвращает true, если следующая неудача станет финальной.
func (j *Job) AttemptsExhausted() bool {
	return j.Attempts+1 >= j.MaxAttempts
}
