package domain

import (
	"time"

	"github.com/google/uuid"
)

// Document — извлечённый и очищенный материал одного источника.
//
// Создаётся ingestion-пайплайном, читается subagent'ами при сборке
// контекста. Пара (BriefingID, URL) уникальна: повторное извлечение
// перезаписывает содержимое.
type Document struct {
	ID         uuid.UUID
	BriefingID uuid.UUID
	URL        string
	Title      string
	Content    string
	FetchedAt  time.Time
	CreatedAt  time.Time
}
