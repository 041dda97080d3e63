package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
)

// RunState — состояние выполнения одного run в памяти.
//
// Создаётся когда Coordinator берёт run в работу и удаляется при
// финализации. БД остаётся источником истины: RunState — это кэш
// для принятия решений (кворум, стрегглеры) без лишних запросов.
type RunState struct {
	// Run — данные run из БД.
	Run *domain.BriefingRun

	// Briefing — briefing с зафиксированным планом personas.
	Briefing *domain.Briefing

	// statuses — текущий статус каждого subagent (persona key → status).
	statuses map[string]domain.SubagentStatus

	// subagents — persona key → subagent run ID.
	subagents map[string]uuid.UUID

	// synthesisStarted — synthesis уже диспатчен этим экземпляром.
	synthesisStarted bool

	// synthesisFinished закрывается, когда synthesis терминален.
	synthesisFinished chan struct{}
	synthesisOnce     sync.Once

	// cancel — отмена контекста выполнения run.
	cancel context.CancelFunc

	mu sync.RWMutex
}

// NewRunState создаёт RunState для run.
func NewRunState(run *domain.BriefingRun, briefing *domain.Briefing) *RunState {
	return &RunState{
		Run:               run,
		Briefing:          briefing,
		statuses:          make(map[string]domain.SubagentStatus),
		subagents:         make(map[string]uuid.UUID),
		synthesisFinished: make(chan struct{}),
	}
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Restore загружает статусы subagents из БД (после рестарта координатора).
func (s *RunState) Restore(subs []domain.SubagentRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range subs {
		s.statuses[subs[i].PersonaKey] = subs[i].Status
		s.subagents[subs[i].PersonaKey] = subs[i].ID
	}
}

// SetCancel сохраняет функцию отмены контекста run.
func (s *RunState) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Cancel отменяет контекст выполнения run.
func (s *RunState) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// SetSubagentStatus обновляет статус subagent.
func (s *RunState) SetSubagentStatus(personaKey string, status domain.SubagentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[personaKey] = status
}

// SubagentID возвращает ID subagent по ключу persona.
func (s *RunState) SubagentID(personaKey string) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.subagents[personaKey]
	return id, ok
}

// PendingSubagents возвращает ID subagents, которым ещё нужна работа
// (не терминальные).
func (s *RunState) PendingSubagents() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for key, status := range s.statuses {
		if !status.IsTerminal() {
			ids = append(ids, s.subagents[key])
		}
	}
	return ids
}

// SuccessLikeCount возвращает число success-like subagents.
func (s *RunState) SuccessLikeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, status := range s.statuses {
		if status.IsSuccessLike() {
			count++
		}
	}
	return count
}

// NonTerminalCount возвращает число незавершённых subagents.
func (s *RunState) NonTerminalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, status := range s.statuses {
		if !status.IsTerminal() {
			count++
		}
	}
	return count
}

// QuorumReached проверяет, набран ли кворум для synthesis.
func (s *RunState) QuorumReached() bool {
	return s.SuccessLikeCount() >= s.Run.RequiredForSynthesis
}

// QuorumUnreachable проверяет, что кворум не будет набран, даже если
// все незавершённые subagents завершатся success-like.
func (s *RunState) QuorumUnreachable() bool {
	return s.SuccessLikeCount()+s.NonTerminalCount() < s.Run.RequiredForSynthesis
}

// TryMarkSynthesisStarted атомарно помечает synthesis диспатченным.
// Возвращает false, если он уже был диспатчен.
func (s *RunState) TryMarkSynthesisStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.synthesisStarted {
		return false
	}
	s.synthesisStarted = true
	return true
}

// SynthesisStarted проверяет, был ли synthesis диспатчен.
func (s *RunState) SynthesisStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthesisStarted
}

// MarkSynthesisFinished сигнализирует, что synthesis терминален.
func (s *RunState) MarkSynthesisFinished() {
	s.synthesisOnce.Do(func() { close(s.synthesisFinished) })
}

// SynthesisFinished возвращает канал, закрывающийся при завершении synthesis.
func (s *RunState) SynthesisFinished() <-chan struct{} {
	return s.synthesisFinished
}

// Stats возвращает статистику выполнения run.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{Total: len(s.statuses)}
	for _, status := range s.statuses {
		switch {
		case status.IsSuccessLike():
			stats.SuccessLike++
		case status.IsTerminal():
			stats.Failed++
		default:
			stats.InFlight++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	Total       int
	SuccessLike int
	Failed      int
	InFlight    int
}
