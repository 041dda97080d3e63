package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dossier/internal/api"
	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dossier_api_http_requests_total",
		Help: "Total HTTP requests handled by dossier_api",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dossier-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if os.Getenv("MIGRATE_ON_START") == "true" {
		if err := repo.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("schema migrated")
	}

	// Создаём репозитории
	briefingRepo := repo.NewBriefingRepo(pool)
	runRepo := repo.NewRunRepo(pool)
	subagentRepo := repo.NewSubagentRepo(pool)
	synthRepo := repo.NewSynthesisRepo(pool)
	eventRepo := repo.NewEventRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)
	documentRepo := repo.NewDocumentRepo(pool)
	extractionRepo := repo.NewJobRepo(pool, domain.QueueExtraction)
	ingestionRepo := repo.NewJobRepo(pool, domain.QueueIngestion)

	// RabbitMQ: недоступность не фатальна, координатор и workers
	// подберут работу через polling
	var publisher *mq.Publisher
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, clients rely on polling", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	launcher := coordinator.NewLauncher(pool, runRepo, subagentRepo, synthRepo, eventRepo, logger)

	// Создаём API handler
	handler := api.NewHandler(api.Config{
		Pool:           pool,
		BriefingRepo:   briefingRepo,
		RunRepo:        runRepo,
		SubagentRepo:   subagentRepo,
		SynthRepo:      synthRepo,
		EventRepo:      eventRepo,
		ScheduleRepo:   scheduleRepo,
		DocumentRepo:   documentRepo,
		ExtractionRepo: extractionRepo,
		IngestionRepo:  ingestionRepo,
		Launcher:       launcher,
		Publisher:      publisher,
		Logger:         logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// HTTP сервер с graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
