// Dossier Scheduler — тикает расписания и чинит застрявшую работу.
//
// Один процесс делает две вещи:
//   - Tick: due schedules -> создание runs (идемпотентно по fingerprint)
//   - Sweep: возврат протухших job leases и застрявших subagents
//
// Экземпляров может быть несколько: лидерство берётся через
// pg_advisory_lock, тикает только лидер.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/scheduler"
	"github.com/shaiso/Dossier/internal/telemetry"
)

const schedLockKey int64 = 727272

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dossier-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	scheduleRepo := repo.NewScheduleRepo(pool)
	briefingRepo := repo.NewBriefingRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	subagentRepo := repo.NewSubagentRepo(pool)
	synthRepo := repo.NewSynthesisRepo(pool)
	eventRepo := repo.NewEventRepo(pool)
	extractionRepo := repo.NewJobRepo(pool, domain.QueueExtraction)
	ingestionRepo := repo.NewJobRepo(pool, domain.QueueIngestion)

	// RabbitMQ (не критичен: координатор подхватит runs через poll)
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, coordinator relies on polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")
		publisher = mq.NewPublisher(mqConn, logger)
	}

	launcher := coordinator.NewLauncher(pool, runRepo, subagentRepo, synthRepo, eventRepo, logger)

	sched := scheduler.New(scheduler.Config{
		ScheduleRepo: scheduleRepo,
		BriefingRepo: briefingRepo,
		RunRepo:      runRepo,
		Launcher:     launcher,
		Publisher:    publisher,
		Logger:       logger,
	})

	sweep := scheduler.NewSweep(scheduler.SweepConfig{
		Pool:           pool,
		ExtractionRepo: extractionRepo,
		IngestionRepo:  ingestionRepo,
		SubagentRepo:   subagentRepo,
		EventRepo:      eventRepo,
		Logger:         logger,
	})

	tickInterval := 5 * time.Second
	sweepInterval := time.Minute

	// scheduler loop
	go func() {
		tk := time.NewTicker(tickInterval)
		defer tk.Stop()

		sweepTk := time.NewTicker(sweepInterval)
		defer sweepTk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		for {
			select {
			case <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Error("advisory lock failed", "error", err)
						continue
					}
					hasLock = ok
					if ok {
						logger.Info("became scheduler leader")
					}
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				if err := sched.Tick(ctx); err != nil && ctx.Err() == nil {
					logger.Error("tick failed", "error", err)
				}

			case <-sweepTk.C:
				if !hasLock {
					continue
				}
				if err := sweep.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Error("sweep failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("dossier-scheduler stopped")
}
