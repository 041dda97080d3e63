package api

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Dossier/internal/coordinator"
	"github.com/shaiso/Dossier/internal/mq"
	"github.com/shaiso/Dossier/internal/repo"
)

// Handler — HTTP обработчик API с зависимостями.
type Handler struct {
	pool           *pgxpool.Pool
	briefingRepo   *repo.BriefingRepo
	runRepo        *repo.RunRepo
	subagentRepo   *repo.SubagentRepo
	synthRepo      *repo.SynthesisRepo
	eventRepo      *repo.EventRepo
	scheduleRepo   *repo.ScheduleRepo
	documentRepo   *repo.DocumentRepo
	extractionRepo *repo.JobRepo
	ingestionRepo  *repo.JobRepo
	launcher       *coordinator.Launcher
	publisher      *mq.Publisher
	logger         *slog.Logger
}

// Config — конфигурация Handler.
type Config struct {
	Pool           *pgxpool.Pool
	BriefingRepo   *repo.BriefingRepo
	RunRepo        *repo.RunRepo
	SubagentRepo   *repo.SubagentRepo
	SynthRepo      *repo.SynthesisRepo
	EventRepo      *repo.EventRepo
	ScheduleRepo   *repo.ScheduleRepo
	DocumentRepo   *repo.DocumentRepo
	ExtractionRepo *repo.JobRepo
	IngestionRepo  *repo.JobRepo
	Launcher       *coordinator.Launcher
	Publisher      *mq.Publisher // nil — работаем без MQ, клиенты живут на polling
	Logger         *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		pool:           cfg.Pool,
		briefingRepo:   cfg.BriefingRepo,
		runRepo:        cfg.RunRepo,
		subagentRepo:   cfg.SubagentRepo,
		synthRepo:      cfg.SynthRepo,
		eventRepo:      cfg.EventRepo,
		scheduleRepo:   cfg.ScheduleRepo,
		documentRepo:   cfg.DocumentRepo,
		extractionRepo: cfg.ExtractionRepo,
		ingestionRepo:  cfg.IngestionRepo,
		launcher:       cfg.Launcher,
		publisher:      cfg.Publisher,
		logger:         logger,
	}
}
