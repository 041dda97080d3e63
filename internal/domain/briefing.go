package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Briefing — определение многоперсонного briefing.
//
// Briefing — это "рецепт" dossier: набор personas и кворум для synthesis.
// План версионируется: правка personas создаёт новую версию, а run
// фиксирует версию на момент старта.
type Briefing struct {
	// ID — уникальный идентификатор briefing.
	ID uuid.UUID `json:"id"`

	// Name — имя briefing для удобства ("morning-markets", "weekly-ai").
	Name string `json:"name"`

	// PlanVersion — текущая версия плана (1, 2, 3, ...).
	PlanVersion int `json:"plan_version"`

	// Personas — конфигурации persona-subagents текущей версии плана.
	Personas []PersonaSpec `json:"personas"`

	// RequiredForSynthesis — кворум success-like subagents для synthesis.
	// 0 означает "все personas".
	RequiredForSynthesis int `json:"required_for_synthesis"`

	// IsActive — неактивные briefings не запускаются по расписанию.
	IsActive bool `json:"is_active"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения плана.
	UpdatedAt time.Time `json:"updated_at"`
}

// Quorum возвращает эффективный кворум с учётом значения по умолчанию.
func (b *Briefing) Quorum() int {
	if b.RequiredForSynthesis <= 0 || b.RequiredForSynthesis > len(b.Personas) {
		return len(b.Personas)
	}
	return b.RequiredForSynthesis
}

// EnabledPersonas возвращает активные personas плана.
func (b *Briefing) EnabledPersonas() []PersonaSpec {
	out := make([]PersonaSpec, 0, len(b.Personas))
	for _, p := range b.Personas {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// PersonaSpec — конфигурация одной persona.
//
// Persona задаёт роль и prompt для одного subagent. Хранится в JSONB
// внутри строки briefing.
type PersonaSpec struct {
	// Key — стабильный ключ persona, уникальный внутри briefing
	// ("analyst", "skeptic", "historian").
	Key string `json:"key"`

	// Name — человекочитаемое имя.
	Name string `json:"name,omitempty"`

	// SystemPrompt — системный prompt для AI-completion.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Provider — AI-провайдер ("openai", "anthropic", ...).
	Provider string `json:"provider,omitempty"`

	// Model — модель провайдера.
	Model string `json:"model,omitempty"`

	// MaxAttempts — предел попыток subagent. 0 — значение по умолчанию.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Disabled — persona временно выключена: её subagent создаётся
	// и сразу переводится в SKIPPED.
	Disabled bool `json:"disabled,omitempty"`
}

// ExecutionFingerprint вычисляет детерминированный отпечаток запуска.
//
// Одинаковый (briefing, plan version, trigger) даёт одинаковый отпечаток,
// поэтому дублирующиеся конкурентные старты обнаруживаются по unique-ключу
// ещё до partial-index'а активных runs. Trigger для ручного запуска —
// пустая строка, для scheduled — "{schedule_id}_{due_unix}".
func ExecutionFingerprint(briefingID uuid.UUID, planVersion int, trigger string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", briefingID, planVersion, trigger)))
	return hex.EncodeToString(h[:])
}
