package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks poll cycles per instance and result (ok, error, auth_error, panic)
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollmark_cycles_total",
			Help: "Total number of poll cycles",
		},
		[]string{"instance", "result"},
	)

	// RecordsTotal tracks per-record results (marked, skipped, failed, mark_failed, reconciled, claimed)
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollmark_records_total",
			Help: "Total number of records handled, by result",
		},
		[]string{"instance", "result"},
	)

	// CycleDuration tracks how long a query + batch takes
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollmark_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"instance"},
	)

	// ProviderDuration tracks side-effect latency
	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollmark_provider_duration_seconds",
			Help:    "Side-effect provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"instance", "provider"},
	)

	// EligibleRecords is the size of the last queried batch
	EligibleRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pollmark_eligible_records",
			Help: "Number of records returned by the last query",
		},
		[]string{"instance"},
	)

	// AuthFailuresTotal counts cycles aborted by authorization errors
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollmark_auth_failures_total",
			Help: "Total number of cycles aborted by authorization errors",
		},
		[]string{"instance"},
	)

	// PollerState is 1 for the current state of each instance, 0 otherwise
	PollerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pollmark_poller_state",
			Help: "Current poller state (1 = active)",
		},
		[]string{"instance", "state"},
	)

	// HTTPRequestsTotal tracks outbound API calls per client and status class
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollmark_http_requests_total",
			Help: "Total number of outbound HTTP requests",
		},
		[]string{"client", "status"},
	)

	// HTTPLatency tracks outbound API latency
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollmark_http_latency_seconds",
			Help:    "Outbound HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client"},
	)
)

// DBConnectionPoolUsage tracks the open/max connection ratio of the Postgres store
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "pollmark_db_connection_pool_usage_percent",
		Help: "Postgres connection pool usage in percent",
	},
)
