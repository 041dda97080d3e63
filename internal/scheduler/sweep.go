package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// Sweep defaults.
const (
	defaultJobLeaseTimeout  = 5 * time.Minute
	defaultSubagentStallAge = 10 * time.Minute
	defaultSweepBatch       = 100
)

// Sweep возвращает протухшие lease.
//
// Упавший worker оставляет job в PROCESSING, упавший координатор —
// subagent в RUNNING. Heartbeat'ов нет: единственный механизм
// восстановления — истечение lease по возрасту, которым и занимается
// Sweep. Conditional updates делают его безопасным при нескольких
// экземплярах и при гонке с ещё живым владельцем lease.
type Sweep struct {
	pool           *pgxpool.Pool
	extractionRepo *repo.JobRepo
	ingestionRepo  *repo.JobRepo
	subRepo        *repo.SubagentRepo
	eventRepo      *repo.EventRepo

	jobLeaseTimeout  time.Duration
	subagentStallAge time.Duration
	batchSize        int

	logger *slog.Logger
}

// SweepConfig — конфигурация Sweep.
type SweepConfig struct {
	Pool           *pgxpool.Pool
	ExtractionRepo *repo.JobRepo
	IngestionRepo  *repo.JobRepo
	SubagentRepo   *repo.SubagentRepo
	EventRepo      *repo.EventRepo

	JobLeaseTimeout  time.Duration // default: 5m
	SubagentStallAge time.Duration // default: 10m
	BatchSize        int           // default: 100

	Logger *slog.Logger
}

// NewSweep создаёт Sweep.
func NewSweep(cfg SweepConfig) *Sweep {
	jobLeaseTimeout := cfg.JobLeaseTimeout
	if jobLeaseTimeout <= 0 {
		jobLeaseTimeout = defaultJobLeaseTimeout
	}

	subagentStallAge := cfg.SubagentStallAge
	if subagentStallAge <= 0 {
		subagentStallAge = defaultSubagentStallAge
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweep{
		pool:             cfg.Pool,
		extractionRepo:   cfg.ExtractionRepo,
		ingestionRepo:    cfg.IngestionRepo,
		subRepo:          cfg.SubagentRepo,
		eventRepo:        cfg.EventRepo,
		jobLeaseTimeout:  jobLeaseTimeout,
		subagentStallAge: subagentStallAge,
		batchSize:        batchSize,
		logger:           logger,
	}
}

// Run выполняет один проход sweep.
func (s *Sweep) Run(ctx context.Context) error {
	now := time.Now().UTC()

	if err := s.reclaimJobs(ctx, now); err != nil {
		return err
	}
	return s.reclaimSubagents(ctx, now)
}

// reclaimJobs возвращает PROCESSING jobs с истёкшим lease в RETRY.
func (s *Sweep) reclaimJobs(ctx context.Context, now time.Time) error {
	staleBefore := now.Add(-s.jobLeaseTimeout)

	for _, jobRepo := range []*repo.JobRepo{s.extractionRepo, s.ingestionRepo} {
		if jobRepo == nil {
			continue
		}

		count, err := jobRepo.ReclaimStale(ctx, staleBefore, now)
		if err != nil {
			return fmt.Errorf("reclaim stale %s jobs: %w", jobRepo.Queue(), err)
		}
		if count > 0 {
			telemetry.StaleReclaims.WithLabelValues(string(jobRepo.Queue())).Add(float64(count))
			s.logger.Warn("reclaimed stale job leases",
				"queue", jobRepo.Queue(),
				"count", count,
			)
		}
	}
	return nil
}

// reclaimSubagents разбирает застрявшие RUNNING subagents.
//
// Subagent без прогресса дольше subagentStallAge считается потерянным
// (координатор умер посреди выполнения): остались попытки — RETRY_WAIT
// с немедленным retry, иначе FAILED.
func (s *Sweep) reclaimSubagents(ctx context.Context, now time.Time) error {
	staleBefore := now.Add(-s.subagentStallAge)

	stalled, err := s.subRepo.ListStalled(ctx, staleBefore, s.batchSize)
	if err != nil {
		return fmt.Errorf("list stalled subagents: %w", err)
	}

	for i := range stalled {
		sub := &stalled[i]
		if err := s.reclaimSubagent(ctx, sub, now); err != nil {
			s.logger.Error("failed to reclaim stalled subagent",
				"run_id", sub.RunID,
				"persona_key", sub.PersonaKey,
				"error", err,
			)
		}
	}
	return nil
}

// reclaimSubagent возвращает одного застрявшего subagent.
func (s *Sweep) reclaimSubagent(ctx context.Context, sub *domain.SubagentRun, now time.Time) error {
	var (
		to      domain.SubagentStatus
		event   domain.EventType
		message string
		nextAt  *time.Time
	)
	if sub.CanRetry() {
		to, event = domain.SubagentStatusRetryWait, domain.EventSubagentRetryWait
		message = fmt.Sprintf("stalled in RUNNING since %s, released for retry", sub.UpdatedAt.Format(time.RFC3339))
		nextAt = &now
	} else {
		to, event = domain.SubagentStatusFailed, domain.EventSubagentFailed
		message = fmt.Sprintf("stalled in RUNNING since %s, attempts exhausted", sub.UpdatedAt.Format(time.RFC3339))
	}

	err := repo.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.subRepo.TransitionTx(ctx, tx, sub.ID,
			domain.SubagentStatusRunning, to, "", "lease expired", nextAt, now); err != nil {
			return err
		}
		e := &domain.RunEvent{
			EventID:       uuid.New(),
			RunID:         sub.RunID,
			SubagentRunID: &sub.ID,
			Type:          event,
			Message:       message,
			OccurredAt:    now,
		}
		inserted, err := s.eventRepo.AppendTx(ctx, tx, e)
		if err != nil {
			return fmt.Errorf("append %s event: %w", event, err)
		}
		if inserted {
			telemetry.EventsAppended.Inc()
		}
		return nil
	})
	if err != nil {
		return err
	}

	telemetry.StaleReclaims.WithLabelValues("subagents").Add(1)
	s.logger.Warn("reclaimed stalled subagent",
		"run_id", sub.RunID,
		"persona_key", sub.PersonaKey,
		"status", to,
	)
	return nil
}
