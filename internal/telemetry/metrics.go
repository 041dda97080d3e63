package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики, общие для всех сервисов. Регистрируются в default-registry,
// отдаются через promhttp на /metrics каждого бинарника.
var (
	// JobsClaimed — сколько job было захвачено воркерами, по очередям.
	JobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossier_jobs_claimed_total",
		Help: "Jobs claimed by workers",
	}, []string{"queue"})

	// JobsCompleted — завершённые job по очередям и исходу.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossier_jobs_completed_total",
		Help: "Jobs finished by workers",
	}, []string{"queue", "outcome"})

	// JobRetries — сколько раз job уходил в RETRY.
	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossier_job_retries_total",
		Help: "Job attempts that ended in a retry",
	}, []string{"queue"})

	// StaleReclaims — сколько протухших lease вернул sweep.
	StaleReclaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossier_stale_reclaims_total",
		Help: "Stale leases reclaimed by the sweep",
	}, []string{"queue"})

	// EventsAppended — записанные в журнал события (idempotent-дубликаты не считаются).
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dossier_run_events_appended_total",
		Help: "Run events appended to the event log",
	})

	// ActiveRuns — runs, за которыми сейчас следит координатор.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dossier_active_runs",
		Help: "Briefing runs currently tracked by the coordinator",
	})

	// SubagentDuration — длительность выполнения subagent по исходу.
	SubagentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dossier_subagent_duration_seconds",
		Help:    "Wall-clock duration of subagent attempts",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"outcome"})
)
