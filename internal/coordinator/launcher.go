package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
)

// defaultSubagentAttempts — предел попыток subagent, если persona
// не задаёт свой.
const defaultSubagentAttempts = 3

// ErrNoEnabledPersonas — в плане briefing нет ни одной активной persona.
var ErrNoEnabledPersonas = errors.New("briefing has no enabled personas")

// Launcher создаёт briefing runs.
//
// Run, его subagents, synthesis-заготовка и событие run.queued
// создаются одной транзакцией: run либо существует целиком, либо
// не существует вовсе. Дублирующийся старт отбивается на уровне БД
// (partial unique index активных runs + fingerprint).
type Launcher struct {
	pool      *pgxpool.Pool
	runRepo   *repo.RunRepo
	subRepo   *repo.SubagentRepo
	synthRepo *repo.SynthesisRepo
	eventRepo *repo.EventRepo
	logger    *slog.Logger
}

// NewLauncher создаёт Launcher.
func NewLauncher(pool *pgxpool.Pool, runRepo *repo.RunRepo, subRepo *repo.SubagentRepo, synthRepo *repo.SynthesisRepo, eventRepo *repo.EventRepo, logger *slog.Logger) *Launcher {
	return &Launcher{
		pool:      pool,
		runRepo:   runRepo,
		subRepo:   subRepo,
		synthRepo: synthRepo,
		eventRepo: eventRepo,
		logger:    logger,
	}
}

// CreateRun создаёт run briefing со всеми subagents.
//
// Trigger — метка запуска для fingerprint: пустая строка для ручного
// старта, "{schedule_id}_{due_unix}" для scheduled. Возвращает
// repo.ErrActiveRunExists, если у briefing уже есть активный run
// или конкурентный дубль этого же запуска.
func (l *Launcher) CreateRun(ctx context.Context, briefing *domain.Briefing, trigger string) (*domain.BriefingRun, error) {
	enabled := briefing.EnabledPersonas()
	if len(enabled) == 0 {
		return nil, ErrNoEnabledPersonas
	}

	// Кворум не может превышать число активных personas, иначе run
	// был бы обречён ещё до старта.
	quorum := briefing.Quorum()
	if quorum > len(enabled) {
		quorum = len(enabled)
	}

	now := time.Now().UTC()
	run := &domain.BriefingRun{
		ID:                   uuid.New(),
		BriefingID:           briefing.ID,
		PlanVersion:          briefing.PlanVersion,
		ExecutionFingerprint: domain.ExecutionFingerprint(briefing.ID, briefing.PlanVersion, trigger),
		Status:               domain.RunStatusQueued,
		TotalPersonas:        len(briefing.Personas),
		RequiredForSynthesis: quorum,
		CreatedAt:            now,
	}

	err := repo.WithTx(ctx, l.pool, func(tx pgx.Tx) error {
		if err := l.runRepo.CreateTx(ctx, tx, run); err != nil {
			return err
		}

		subs := make([]domain.SubagentRun, 0, len(briefing.Personas))
		for _, p := range briefing.Personas {
			maxAttempts := p.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = defaultSubagentAttempts
			}
			subs = append(subs, domain.SubagentRun{
				ID:          uuid.New(),
				RunID:       run.ID,
				PersonaKey:  p.Key,
				Status:      domain.SubagentStatusPending,
				Attempt:     1,
				MaxAttempts: maxAttempts,
				CreatedAt:   now,
			})
		}
		if err := l.subRepo.CreateBatchTx(ctx, tx, subs); err != nil {
			return err
		}

		// Отключённые personas пропускаются сразу, в той же транзакции
		for i, p := range briefing.Personas {
			if !p.Disabled {
				continue
			}
			sub := &subs[i]
			if err := l.subRepo.TransitionTx(ctx, tx, sub.ID,
				domain.SubagentStatusPending, domain.SubagentStatusSkipped,
				"", "persona disabled", nil, now); err != nil {
				return err
			}
			if err := appendEventTx(ctx, tx, l.eventRepo,
				newEvent(run.ID, &sub.ID, domain.EventSubagentSkipped, fmt.Sprintf("persona %s disabled", p.Key))); err != nil {
				return err
			}
		}

		if err := l.synthRepo.CreateTx(ctx, tx, &domain.SynthesisRun{
			ID:        uuid.New(),
			RunID:     run.ID,
			Status:    domain.SynthesisStatusNotStarted,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		return appendEventTx(ctx, tx, l.eventRepo,
			newEvent(run.ID, nil, domain.EventRunQueued,
				fmt.Sprintf("run queued: %d personas, quorum %d", len(briefing.Personas), quorum)))
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("run created",
		"run_id", run.ID,
		"briefing_id", briefing.ID,
		"personas", len(briefing.Personas),
		"quorum", quorum,
	)
	return run, nil
}
