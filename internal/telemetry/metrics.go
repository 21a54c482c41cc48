package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks handler latency by route and status.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "vigil",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"route", "method", "status"},
)

var GuardScansTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "guard",
		Name:      "scans_total",
		Help:      "Total number of guard scan requests by request_type and outcome.",
	},
	[]string{"request_type", "outcome"},
)

var GuardCacheHitsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "guard",
		Name:      "cache_hits_total",
		Help:      "Total number of guard scan cache hits.",
	},
)

var RateLimitDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "admission",
		Name:      "rate_limit_denied_total",
		Help:      "Total number of requests denied by the per-minute limiter or monthly quota.",
	},
	[]string{"reason"},
)

var CircuitBreakerState = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "vigil",
		Subsystem: "sidecar",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open).",
	},
)

var SidecarRPCDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "vigil",
		Subsystem: "sidecar",
		Name:      "rpc_duration_seconds",
		Help:      "ML sidecar RPC duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"rpc", "outcome"},
)

var ScansActiveGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "vigil",
		Subsystem: "scan",
		Name:      "active",
		Help:      "Number of Garak scans currently queued or running.",
	},
)

var ScansCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "scan",
		Name:      "completed_total",
		Help:      "Total number of Garak scans reaching a terminal state, by status.",
	},
	[]string{"status"},
)

var WriteBufferDroppedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "vigil",
		Subsystem: "writebuffer",
		Name:      "dropped_total",
		Help:      "Total number of audit entries dropped because the inbound queue was full.",
	},
)

var SSEConnectionsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "vigil",
		Subsystem: "events",
		Name:      "connections",
		Help:      "Number of currently open SSE connections.",
	},
)

// All returns vigil-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		GuardScansTotal,
		GuardCacheHitsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState,
		SidecarRPCDuration,
		ScansActiveGauge,
		ScansCompletedTotal,
		WriteBufferDroppedTotal,
		SSEConnectionsGauge,
	}
}

// NewMetricsRegistry builds a registry carrying the Go/process collectors
// plus vigil's own metrics.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
