package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
)

// Scheduler обрабатывает due briefing schedules.
type Scheduler struct {
	scheduleRepo *repo.ScheduleRepo
	briefingRepo *repo.BriefingRepo
	runRepo      *repo.RunRepo
	launcher     *coordinator.Launcher
	publisher    *mq.Publisher
	logger       *slog.Logger
	batchSize    int
}

// Config — конфигурация Scheduler.
type Config struct {
	ScheduleRepo *repo.ScheduleRepo
	BriefingRepo *repo.BriefingRepo
	RunRepo      *repo.RunRepo
	Launcher     *coordinator.Launcher
	Publisher    *mq.Publisher // nil — координатор подхватит через polling
	Logger       *slog.Logger
	BatchSize    int // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		scheduleRepo: cfg.ScheduleRepo,
		briefingRepo: cfg.BriefingRepo,
		runRepo:      cfg.RunRepo,
		launcher:     cfg.Launcher,
		publisher:    cfg.Publisher,
		logger:       logger,
		batchSize:    batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// Находит due schedules, создаёт run для каждого и двигает
// next_due_at. Ошибка одного schedule не блокирует остальные.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	schedules, err := s.scheduleRepo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"briefing_id", sched.BriefingID,
				"error", err,
			)
			continue
		}
		if runCreated {
			created++
		}
	}

	s.logger.Info("scheduler tick completed", "due", len(schedules), "runs_created", created)
	return nil
}

// processSchedule обрабатывает одно срабатывание расписания.
// Возвращает true, если run был создан.
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.BriefingSchedule, now time.Time) (bool, error) {
	briefing, err := s.briefingRepo.GetByID(ctx, sched.BriefingID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.logger.Warn("briefing not found for schedule, skipping",
				"schedule_id", sched.ID, "briefing_id", sched.BriefingID)
			return false, s.advance(ctx, sched, now)
		}
		return false, fmt.Errorf("get briefing: %w", err)
	}

	if !briefing.IsActive {
		s.logger.Debug("briefing inactive, skipping trigger",
			"schedule_id", sched.ID, "briefing_id", briefing.ID)
		return false, s.advance(ctx, sched, now)
	}

	// Trigger фиксирует конкретное срабатывание: повторная обработка
	// того же next_due_at упрётся в тот же fingerprint
	trigger := fmt.Sprintf("%s_%d", sched.ID, sched.NextDueAt.Unix())
	fingerprint := domain.ExecutionFingerprint(briefing.ID, briefing.PlanVersion, trigger)

	if existing, err := s.runRepo.GetByFingerprint(ctx, fingerprint); err == nil {
		s.logger.Debug("run already created for this trigger",
			"schedule_id", sched.ID, "run_id", existing.ID)
		return false, s.recordRun(ctx, sched, existing, now)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}

	run, err := s.launcher.CreateRun(ctx, briefing, trigger)
	if err != nil {
		if errors.Is(err, repo.ErrActiveRunExists) {
			// Предыдущий run ещё не завершён — пропускаем срабатывание
			s.logger.Info("previous run still active, skipping trigger",
				"schedule_id", sched.ID, "briefing_id", briefing.ID)
			return false, s.advance(ctx, sched, now)
		}
		if errors.Is(err, coordinator.ErrNoEnabledPersonas) {
			s.logger.Warn("briefing has no enabled personas, skipping trigger",
				"schedule_id", sched.ID, "briefing_id", briefing.ID)
			return false, s.advance(ctx, sched, now)
		}
		return false, fmt.Errorf("create run: %w", err)
	}

	if err := s.recordRun(ctx, sched, run, now); err != nil {
		return true, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRunApproved(ctx, run.ID); err != nil {
			// Не фатально: координатор подхватит QUEUED run через polling
			s.logger.Warn("failed to publish run.approved", "run_id", run.ID, "error", err)
		}
	}

	s.logger.Info("scheduled run created",
		"schedule_id", sched.ID,
		"briefing_id", briefing.ID,
		"run_id", run.ID,
	)
	return true, nil
}

// recordRun записывает созданный run в schedule и двигает next_due_at.
func (s *Scheduler) recordRun(ctx context.Context, sched *domain.BriefingSchedule, run *domain.BriefingRun, now time.Time) error {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}

	sched.RecordRun(run.ID, nextDue)
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// advance двигает next_due_at без создания run.
func (s *Scheduler) advance(ctx context.Context, sched *domain.BriefingSchedule, now time.Time) error {
	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		return fmt.Errorf("calculate next due: %w", err)
	}

	sched.NextDueAt = &nextDue
	sched.UpdatedAt = now
	if err := s.scheduleRepo.Update(ctx, sched); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}
