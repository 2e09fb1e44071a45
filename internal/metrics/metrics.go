// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync metrics
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_sync_runs_total",
			Help: "Total number of source sync runs",
		},
		[]string{"source_type", "result"}, // result: "success", "failure"
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_sync_duration_seconds",
			Help:    "Duration of one source sync in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source_type"},
	)

	UpdatesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_updates_fetched_total",
			Help: "Total number of updates returned by source adapters",
		},
		[]string{"source_type"},
	)

	UpdatesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_updates_persisted_total",
			Help: "Total number of newly persisted updates",
		},
		[]string{"event_type"},
	)

	UpdatesDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_updates_deduplicated_total",
			Help: "Total number of fetched updates matched to an existing record",
		},
		[]string{"event_type"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_source_errors_total",
			Help: "Total number of source adapter failures",
		},
		[]string{"source_type", "kind"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API metrics
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)
)
