// Dossier Worker — выполняет extraction и ingestion jobs.
//
// Worker:
//   - Получает job.ready из RabbitMQ (плюс polling fallback по БД)
//   - Захватывает jobs через lease (conditional update)
//   - Extraction: скачивает источник и ставит ingestion job
//   - Ingestion: сохраняет документ в хранилище briefing
//   - Реализует retry с exponential backoff
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Dossier/internal/domain"
	"github.com/shaiso/Dossier/internal/extract"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
	"github.com/shaiso/Dossier/internal/telemetry"
	"github.com/shaiso/Dossier/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting dossier-worker")

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
	extractionRepo := repo.NewJobRepo(pool, domain.QueueExtraction)
	ingestionRepo := repo.NewJobRepo(pool, domain.QueueIngestion)
	documentRepo := repo.NewDocumentRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
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

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Регистрируем executors
	registry := worker.NewRegistry()
	registry.Register(domain.QueueExtraction, worker.NewExtractExecutor(
		extract.NewHTTPExtractor(),
		ingestionRepo,
		publisher,
		3, // предел попыток ingestion jobs
		logger,
	))
	registry.Register(domain.QueueIngestion, worker.NewIngestExecutor(documentRepo, logger))

	// Создаём worker
	w := worker.New(worker.Config{
		ExtractionRepo: extractionRepo,
		IngestionRepo:  ingestionRepo,
		Conn:           mqConn,
		Registry:       registry,
		Logger:         logger,
	})

	// Запускаем worker
	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
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

	// Останавливаем worker
	w.Stop()
	logger.Info("dossier-worker stopped")
}
