package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter metrics
var (
	// Claim counters
	ClaimCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walink_claims_total",
			Help: "Total number of location claim attempts",
		},
		[]string{"kind"}, // kind is "oauth" or "manual"
	)

	ClaimConflictCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "walink_claim_conflicts_total",
			Help: "Total number of claims rejected because the location was already taken",
		},
	)

	// Instance operation counter
	InstanceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walink_instance_operations_total",
			Help: "Total number of messaging instance operations",
		},
		[]string{"operation"}, // "create", "connect", "disconnect", "delete", "refresh"
	)

	// Reconciliation result counter
	ReconcileResultCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walink_reconcile_results_total",
			Help: "Total number of reconciliation outcomes",
		},
		[]string{"result"}, // "applied", "ignored", "stale", "error"
	)

	// Gateway error counter
	GatewayErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walink_gateway_errors_total",
			Help: "Total number of gateway call failures after retries",
		},
		[]string{"call"},
	)

	// Error counter by taxonomy kind
	OperationErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walink_operation_errors_total",
			Help: "Total number of typed operation errors returned to callers",
		},
		[]string{"kind"},
	)
)

// Histogram metrics
var (
	// Database operation duration
	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walink_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Poller pass duration
	PollerPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walink_poller_pass_duration_seconds",
			Help:    "Duration of a full poller reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Gauge metrics
var (
	// Instances currently watched by the poller
	WatchedInstancesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "walink_watched_instances",
			Help: "Number of instances in non-terminal states",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ClaimCounter,
		ClaimConflictCounter,
		InstanceOperationCounter,
		ReconcileResultCounter,
		GatewayErrorCounter,
		OperationErrorCounter,
		DBOperationDuration,
		PollerPassDuration,
		WatchedInstancesGauge,
	)
}

// RecordOperationError increments the typed error counter for a kind
func RecordOperationError(kind string) {
	OperationErrorCounter.WithLabelValues(kind).Inc()
}

// TrackDBOperation returns a function that records the duration of a
// database operation when deferred
func TrackDBOperation(operation string) func(time.Time) {
	return func(start time.Time) {
		DBOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
