package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageRuns tracks stage executions per stage and outcome
	StageRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_stage_runs_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	// StageDuration tracks wall-clock stage duration
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stager_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RetryAttempts tracks retried operation attempts
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stager_retry_attempts_total",
			Help: "Total number of retry attempts after a failure",
		},
	)

	// BreakerTransitions tracks circuit breaker state changes
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)

	// BreakerState tracks the current breaker state (0 closed, 1 open, 2 half-open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stager_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	// CheckpointWrites tracks checkpoint rows written per status
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"status"},
	)

	// MonthsProcessed tracks month sweep outcomes per status
	MonthsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_months_processed_total",
			Help: "Total number of months processed by sweeps",
		},
		[]string{"status"},
	)

	// LogRecords tracks log records delivered per sink
	LogRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_log_records_total",
			Help: "Total number of log records delivered",
		},
		[]string{"sink"},
	)

	// LogSinkFailures tracks sink write failures that forced a fallback
	LogSinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stager_log_sink_failures_total",
			Help: "Total number of log sink write failures",
		},
		[]string{"sink"},
	)

	// DBConnectionPoolUsage tracks open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stager_db_connection_pool_usage",
			Help: "Number of open database connections",
		},
	)

	// DBBatchSize tracks batch sizes of bulk database writes
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stager_db_batch_size",
			Help:    "Number of rows per bulk database write",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"operation"},
	)
)
