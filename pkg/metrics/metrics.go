// Package metrics holds the Prometheus collectors of the scoring pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration measures each pipeline stage (render, capture, compare).
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssbattle_stage_duration_seconds",
			Help:    "Duration of scoring pipeline stages in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	// CycleFailures counts comparison cycles skipped because a stage failed.
	CycleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssbattle_cycle_failures_total",
			Help: "Total number of comparison cycles skipped after a failure",
		},
		[]string{"stage"},
	)

	// StaleResults counts results discarded because a newer input arrived.
	StaleResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cssbattle_stale_results_total",
			Help: "Total number of comparison results discarded as stale",
		},
	)

	// Submissions counts forwarded submissions by trigger.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssbattle_submissions_total",
			Help: "Total number of forwarded submissions",
		},
		[]string{"trigger"},
	)

	// ActiveRounds tracks rounds that have started and not yet been closed.
	ActiveRounds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cssbattle_active_rounds",
			Help: "Number of rounds currently open",
		},
	)

	// LiveArtifacts tracks diff artifacts held in memory.
	LiveArtifacts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cssbattle_live_artifacts",
			Help: "Number of diff artifacts not yet released",
		},
	)

	// RequestCounter counts HTTP requests by status code, method, and route.
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cssbattle_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"status", "method", "route"},
	)

	// RequestDuration measures HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssbattle_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "route"},
	)

	// DatabaseOperationDuration measures database operation duration.
	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cssbattle_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)
)

// ObserveStage records the duration of a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordDBOperation records the duration of a database operation.
func RecordDBOperation(operation, table string, start time.Time) {
	DatabaseOperationDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
