package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dossier/internal/ai"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval   = 10 * time.Second
	defaultBatchSize      = 100
	defaultMaxSubagents   = 8
	defaultInitialBackoff = 15 * time.Second
	defaultMaxBackoff     = 5 * time.Minute
	defaultDocsPerPrompt  = 20
)

// Coordinator управляет выполнением briefing runs.
//
// Получает одобренные runs через MQ и polling, раскладывает на
// subagents, следит за кворумом и финализирует run. Состояние
// runs хранится в БД; in-memory RunState — только кэш этого
// экземпляра.
type Coordinator struct {
	// Database
	pool *pgxpool.Pool

	// Repositories
	runRepo      *repo.RunRepo
	subRepo      *repo.SubagentRepo
	synthRepo    *repo.SynthesisRepo
	briefingRepo *repo.BriefingRepo
	eventRepo    *repo.EventRepo
	docRepo      *repo.DocumentRepo

	// AI
	completer ai.Completer

	// MQ
	conn *mq.Connection

	// Active runs (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// sem ограничивает число одновременно работающих subagents.
	sem chan struct{}

	// Configuration
	pollInterval     time.Duration
	batchSize        int
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	stragglerTimeout time.Duration
	docsPerPrompt    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Coordinator.
type Config struct {
	// Database pool (для транзакций переход+событие)
	Pool *pgxpool.Pool

	// Repositories
	RunRepo      *repo.RunRepo
	SubagentRepo *repo.SubagentRepo
	SynthRepo    *repo.SynthesisRepo
	BriefingRepo *repo.BriefingRepo
	EventRepo    *repo.EventRepo
	DocumentRepo *repo.DocumentRepo

	// AI completer для subagents и synthesis
	Completer ai.Completer

	// MQ (nil — работаем только на polling)
	Conn *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// MaxConcurrentSubagents — размер пула subagents (default: 8)
	MaxConcurrentSubagents int

	// Retry backoff для subagents
	InitialBackoff time.Duration // default: 15s
	MaxBackoff     time.Duration // default: 5m

	// StragglerTimeout — сколько ждать отстающих subagents после
	// завершения synthesis. 0 — ждать без ограничения.
	StragglerTimeout time.Duration

	// DocsPerPrompt — сколько свежих документов попадает в prompt (default: 20)
	DocsPerPrompt int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Coordinator.
func New(cfg Config) *Coordinator {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	maxSubagents := cfg.MaxConcurrentSubagents
	if maxSubagents <= 0 {
		maxSubagents = defaultMaxSubagents
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	docsPerPrompt := cfg.DocsPerPrompt
	if docsPerPrompt <= 0 {
		docsPerPrompt = defaultDocsPerPrompt
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		pool:             cfg.Pool,
		runRepo:          cfg.RunRepo,
		subRepo:          cfg.SubagentRepo,
		synthRepo:        cfg.SynthRepo,
		briefingRepo:     cfg.BriefingRepo,
		eventRepo:        cfg.EventRepo,
		docRepo:          cfg.DocumentRepo,
		completer:        cfg.Completer,
		conn:             cfg.Conn,
		activeRuns:       make(map[uuid.UUID]*RunState),
		sem:              make(chan struct{}, maxSubagents),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		initialBackoff:   initialBackoff,
		maxBackoff:       maxBackoff,
		stragglerTimeout: cfg.StragglerTimeout,
		docsPerPrompt:    docsPerPrompt,
		logger:           logger,
	}
}

// Start запускает Coordinator.
//
// Запускает consumers для runs.approved и runs.cancel (если есть
// MQ-соединение) и polling горутину.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting coordinator",
		"poll_interval", c.pollInterval,
		"batch_size", c.batchSize,
		"max_subagents", cap(c.sem),
	)

	if c.conn != nil {
		approved := mq.NewConsumer(c.conn, string(mq.QueueRunsApproved), 10, c.handleRunApproved, c.logger)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			approved.Run(ctx)
		}()

		cancelConsumer := mq.NewConsumer(c.conn, string(mq.QueueRunsCancel), 10, c.handleRunCancel, c.logger)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			cancelConsumer.Run(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pollLoop(ctx)
	}()

	c.logger.Info("coordinator started")
	return nil
}

// Stop останавливает Coordinator и ждёт завершения горутин.
//
// Прерванные runs останутся RUNNING в БД и будут подхвачены
// после рестарта (или другим экземпляром) через polling.
func (c *Coordinator) Stop() {
	c.stoppedMu.Lock()
	c.stopped = true
	c.stoppedMu.Unlock()

	c.logger.Info("stopping coordinator...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}

	c.wg.Wait()

	c.logger.Info("coordinator stopped", "active_runs", c.ActiveRunsCount())
}

// IsStopped проверяет, остановлен ли Coordinator.
func (c *Coordinator) IsStopped() bool {
	c.stoppedMu.RLock()
	defer c.stoppedMu.RUnlock()
	return c.stopped
}

// pollLoop — цикл polling fallback.
func (c *Coordinator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем runs, оставшиеся с прошлого запуска
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// poll подбирает QUEUED runs и осиротевшие RUNNING/CANCELLING runs.
func (c *Coordinator) poll(ctx context.Context) {
	for _, status := range []domain.RunStatus{
		domain.RunStatusQueued, domain.RunStatusRunning, domain.RunStatusCancelling,
	} {
		runs, err := c.runRepo.ListByStatus(ctx, status, c.batchSize)
		if err != nil {
			c.logger.Error("failed to list runs", "status", status, "error", err)
			continue
		}

		for i := range runs {
			if ctx.Err() != nil {
				return
			}
			run := &runs[i]
			if c.isRunActive(run.ID) {
				// Флаг CANCELLING мог быть выставлен в БД мимо MQ
				// (API-процесс, либо cancel-сообщение ушло другому
				// экземпляру): владелец доносит отмену до контекста
				// run сам, иначе она не случится вовсе.
				if status == domain.RunStatusCancelling {
					c.cancelLocalRun(run.ID)
				}
				continue
			}
			if err := c.processRun(ctx, run.ID); err != nil {
				c.logger.Error("failed to process run from poll",
					"run_id", run.ID,
					"error", err,
				)
			}
		}
	}
}

// isRunActive проверяет, обрабатывается ли run этим экземпляром.
func (c *Coordinator) isRunActive(runID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.activeRuns[runID]
	return exists
}

// cancelLocalRun отменяет контекст выполнения run, если run ведётся
// этим экземпляром. Возвращает false для чужих и неизвестных runs.
// Идемпотентен: повторная отмена уже отменённого контекста — no-op.
func (c *Coordinator) cancelLocalRun(runID uuid.UUID) bool {
	state := c.getActiveRun(runID)
	if state == nil {
		return false
	}
	state.Cancel()
	return true
}

// getActiveRun возвращает активный RunState.
func (c *Coordinator) getActiveRun(runID uuid.UUID) *RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (c *Coordinator) addActiveRun(state *RunState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	c.activeRuns[state.RunID()] = state
	telemetry.ActiveRuns.Set(float64(len(c.activeRuns)))
	return nil
}

// removeActiveRun удаляет run из активных.
func (c *Coordinator) removeActiveRun(runID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeRuns, runID)
	telemetry.ActiveRuns.Set(float64(len(c.activeRuns)))
}

// ActiveRunsCount возвращает количество активных runs.
func (c *Coordinator) ActiveRunsCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (c *Coordinator) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, exists := c.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}
	return state.Stats(), true
}
