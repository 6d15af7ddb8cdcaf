package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the API surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kernel",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// MissionsCreatedTotal counts mission creations by initial status (PENDING,
// RETRY, QUARANTINED, BLOCKED) and by goal.
var MissionsCreatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "missions",
		Name:      "created_total",
		Help:      "Total number of missions created, by initial status and goal.",
	},
	[]string{"status", "goal"},
)

// MissionsClaimedTotal counts successful claims, including lease reclaims.
var MissionsClaimedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "missions",
		Name:      "claimed_total",
		Help:      "Total number of missions claimed, by goal.",
	},
	[]string{"goal"},
)

// MissionsReclaimedTotal counts claims that won the race against an
// orphaned (lease-expired) RUNNING mission.
var MissionsReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "missions",
		Name:      "reclaimed_total",
		Help:      "Total number of missions reclaimed from an expired lease.",
	},
)

// MissionsTerminalTotal counts transitions into a terminal status.
var MissionsTerminalTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "missions",
		Name:      "terminal_total",
		Help:      "Total number of missions reaching a terminal status.",
	},
	[]string{"status"},
)

// GovernanceDecisionsTotal is labelled by governance action and leading
// reason code. It is registered, but no code path increments it.
var GovernanceDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "governance",
		Name:      "decisions_total",
		Help:      "Total number of governance decisions, by action and reason.",
	},
	[]string{"action", "reason"},
)

// RateLimiterAdmissionsTotal counts rate-limiter admission checks.
var RateLimiterAdmissionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "ratelimiter",
		Name:      "admissions_total",
		Help:      "Total number of rate limiter admission checks, by outcome.",
	},
	[]string{"allowed"},
)

// CommandProposalsTotal counts command proposal lifecycle events.
var CommandProposalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "commands",
		Name:      "proposals_total",
		Help:      "Total number of command proposal lifecycle transitions, by status.",
	},
	[]string{"status"},
)

// RepositoryOperationDuration times Durable Store transactional operations.
var RepositoryOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kernel",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of durable store operations in seconds.",
		Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"operation"},
)

// All returns every kernel-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		MissionsCreatedTotal,
		MissionsClaimedTotal,
		MissionsReclaimedTotal,
		MissionsTerminalTotal,
		GovernanceDecisionsTotal,
		RateLimiterAdmissionsTotal,
		CommandProposalsTotal,
		RepositoryOperationDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, HTTPRequestDuration, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
