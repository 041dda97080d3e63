package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval   = 10 * time.Second
	defaultBatchSize      = 50
	defaultPrefetch       = 5
	defaultInitialBackoff = 30 * time.Second
	defaultMaxBackoff     = 15 * time.Minute
)

// Worker выполняет jobs из очередей extraction и ingestion.
//
// Worker — stateless компонент: всё состояние в БД. Несколько
// экземпляров безопасно потребляют одни очереди, конкурируя
// за lease через conditional updates.
type Worker struct {
	// Repositories по очередям
	repos map[domain.QueueName]*repo.JobRepo

	// MQ
	conn *mq.Connection

	// Executor registry
	registry *Registry

	// Configuration
	pollInterval   time.Duration
	batchSize      int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	owner          string

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	ExtractionRepo *repo.JobRepo
	IngestionRepo  *repo.JobRepo

	// MQ (nil — работаем только на polling)
	Conn *mq.Connection

	// Executor registry
	Registry *Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество jobs за один poll (default: 50)

	// Retry backoff
	InitialBackoff time.Duration // default: 30s
	MaxBackoff     time.Duration // default: 15m

	// Owner — идентификатор экземпляра, пишется в lock_owner.
	// Пустой — генерируется из hostname и случайного суффикса.
	Owner string

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	owner := cfg.Owner
	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	repos := make(map[domain.QueueName]*repo.JobRepo, 2)
	if cfg.ExtractionRepo != nil {
		repos[domain.QueueExtraction] = cfg.ExtractionRepo
	}
	if cfg.IngestionRepo != nil {
		repos[domain.QueueIngestion] = cfg.IngestionRepo
	}

	return &Worker{
		repos:          repos,
		conn:           cfg.Conn,
		registry:       registry,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		owner:          owner,
		logger:         logger.With("owner", owner),
	}
}

// Owner возвращает идентификатор экземпляра.
func (w *Worker) Owner() string {
	return w.owner
}

// Start запускает Worker.
//
// Запускает consumers для jobs.extraction и jobs.ingestion
// (если есть MQ-соединение) и polling горутину.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"queues", len(w.repos),
	)

	if w.conn != nil {
		for queue, mqQueue := range map[domain.QueueName]mq.Queue{
			domain.QueueExtraction: mq.QueueJobsExtraction,
			domain.QueueIngestion:  mq.QueueJobsIngestion,
		} {
			if _, ok := w.repos[queue]; !ok {
				continue
			}
			consumer := mq.NewConsumer(w.conn, string(mqQueue), defaultPrefetch, w.handleJobReady, w.logger)
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				consumer.Run(ctx)
			}()
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения горутин.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем jobs, накопившиеся пока были выключены
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один проход по всем очередям.
func (w *Worker) poll(ctx context.Context) {
	now := time.Now().UTC()

	for queue, jobRepo := range w.repos {
		ids, err := jobRepo.ClaimDue(ctx, w.batchSize, now)
		if err != nil {
			w.logger.Error("failed to list due jobs", "queue", queue, "error", err)
			continue
		}
		if len(ids) == 0 {
			continue
		}

		w.logger.Debug("poll found due jobs", "queue", queue, "count", len(ids))

		for _, id := range ids {
			if ctx.Err() != nil {
				return
			}
			if err := w.processJob(ctx, queue, id); err != nil {
				w.logger.Error("failed to process job from poll",
					"queue", queue,
					"job_id", id,
					"error", err,
				)
			}
		}
	}
}
