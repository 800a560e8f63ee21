// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncInstanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbinventory_sync_instance_duration_seconds",
			Help:    "Duration of one instance sync, by vendor and outcome",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"vendor", "outcome"},
	)

	SyncInstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_sync_instances_total",
			Help: "Instance syncs by outcome (completed, locked, connect_error, ...)",
		},
		[]string{"outcome"},
	)

	SyncSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_sync_sessions_total",
			Help: "Sync sessions by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	AccountChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_account_changes_total",
			Help: "Applied account changes by kind",
		},
		[]string{"kind"},
	)

	PersistBatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbinventory_persist_batch_failures_total",
			Help: "Account batches rolled back",
		},
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbinventory_instance_lock_contention_total",
			Help: "Lock acquisitions denied because another session held the instance",
		},
	)

	CollectPartialTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_collect_partial_total",
			Help: "Permission categories that could not be read",
		},
		[]string{"vendor", "category"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbinventory_connect_breaker_open",
			Help: "1 while the connect circuit breaker of an instance is open",
		},
		[]string{"instance"},
	)

	ClassificationBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_classification_batches_total",
			Help: "Classification batches by terminal status",
		},
		[]string{"status"},
	)

	ClassificationAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_classification_assignment_changes_total",
			Help: "Assignments written or revoked by the engine",
		},
		[]string{"change"},
	)

	SchedulerJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_scheduler_job_runs_total",
			Help: "Scheduler job runs by job id and status",
		},
		[]string{"job", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbinventory_api_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"route", "status"},
	)
)
