// Dossier Coordinator — ведёт briefing runs.
//
// Coordinator:
//   - Получает одобренные runs из RabbitMQ (плюс polling fallback по БД)
//   - Запускает persona-subagents параллельно
//   - По кворуму success-like subagents стартует synthesis
//   - Финализирует run и пишет события в event log
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dossier/internal/ai"
	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dossier-coordinator")

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

	if os.Getenv("MIGRATE_ON_START") == "true" {
		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("schema migrated")
	}

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	subagentRepo := repo.NewSubagentRepo(pool)
	synthRepo := repo.NewSynthesisRepo(pool)
	briefingRepo := repo.NewBriefingRepo(pool)
	eventRepo := repo.NewEventRepo(pool)
	documentRepo := repo.NewDocumentRepo(pool)

	// AI completer
	completer := ai.NewHTTPCompleter(ai.ConfigFromEnv())

	// RabbitMQ
	var mqConn *mq.Connection
	mqConn, err = mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
	}

	stragglerTimeout := 2 * time.Minute
	if v := os.Getenv("STRAGGLER_TIMEOUT_SEC"); v != "" {
		if d, perr := time.ParseDuration(v + "s"); perr == nil {
			stragglerTimeout = d
		}
	}

	// Создаём coordinator
	coord := coordinator.New(coordinator.Config{
		Pool:             pool,
		RunRepo:          runRepo,
		SubagentRepo:     subagentRepo,
		SynthRepo:        synthRepo,
		BriefingRepo:     briefingRepo,
		EventRepo:        eventRepo,
		DocumentRepo:     documentRepo,
		Completer:        completer,
		Conn:             mqConn,
		StragglerTimeout: stragglerTimeout,
		Logger:           logger,
	})

	// Запускаем coordinator
	if err := coord.Start(ctx); err != nil {
		logger.Error("failed to start coordinator", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("COORD_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем coordinator: активные runs остаются RUNNING в БД
	// и будут подхвачены после рестарта через poll
	coord.Stop()
	logger.Info("dossier-coordinator stopped")
}
