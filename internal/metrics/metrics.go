package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "mailsync"
)

var (
	jobDurationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

	// Job Metrics
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Sync jobs run by the dispatcher, by outcome (completed, retrying, failed, abandoned).",
	}, []string{"type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Time spent in the sync executor per job.",
		Buckets:   jobDurationBuckets,
	}, []string{"type", "mode"})

	JobErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_errors_total",
		Help:      "Classified sync failures.",
	}, []string{"kind", "retryable"})

	PartialFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "partial_failures_total",
		Help:      "Syncs that reported failed items, by whether the batch was accepted.",
	}, []string{"accepted"})

	ItemsSyncedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_synced_total",
		Help:      "Items seen by the executor, by result.",
	}, []string{"result"})

	ReapedJobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reaped_jobs_total",
		Help:      "In-progress jobs failed by the stale job reaper.",
	})

	// Queue Metrics
	EnqueuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enqueues_total",
		Help:      "Enqueue attempts by job type and result (queued, expedited, already_queued, error).",
	}, []string{"type", "result", "source"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Jobs in the queue by status.",
	}, []string{"status"})

	// Scheduler Metrics
	ScheduleDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_decisions_total",
		Help:      "Scheduler decisions by priority and whether the sync was due immediately.",
	}, []string{"priority", "immediate"})

	CleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cleanup_deleted_total",
		Help:      "Rows removed by retention cleanup.",
	}, []string{"table"})
)
