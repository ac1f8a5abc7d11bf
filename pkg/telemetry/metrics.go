package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Gateway ─────────────────────────────────────────────────────────────────

	GatewayDispatchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "gateway",
		Name:      "submitted_total",
		Help:      "Total dispatch records created through the gateway.",
	}, []string{"target"})

	GatewayRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "gateway",
		Name:      "rate_limited_total",
		Help:      "Total submissions rejected by the rate limiter.",
	})

	// ─── Coordinator ─────────────────────────────────────────────────────────────

	CoordinatorProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "coordinator",
		Name:      "processed_total",
		Help:      "Total records driven to a terminal status, labelled by status.",
	}, []string{"status"})

	CoordinatorInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dispatch",
		Subsystem: "coordinator",
		Name:      "inflight",
		Help:      "Agent invocations currently running.",
	})

	CoordinatorRouteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Subsystem: "coordinator",
		Name:      "route_duration_seconds",
		Help:      "Agent routing time per dispatch in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"target"})

	CoordinatorCASConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "coordinator",
		Name:      "cas_conflicts_total",
		Help:      "Status updates rejected because another writer won the race.",
	}, []string{"operation"})

	CoordinatorCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "coordinator",
		Name:      "cancellations_total",
		Help:      "Cancellation requests, labelled accepted or rejected.",
	}, []string{"outcome"})

	// ─── Trigger adapters ────────────────────────────────────────────────────────

	TriggerEventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "trigger",
		Name:      "events_handled_total",
		Help:      "Trigger events consumed, labelled by kind and outcome.",
	}, []string{"kind", "outcome"})

	TriggerDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "trigger",
		Name:      "dlq_total",
		Help:      "Malformed trigger events forwarded to the dead-letter queue.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweeperSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "sweeper",
		Name:      "swept_total",
		Help:      "Stale pending records forced into timeout.",
	})

	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatch",
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweep executions, labelled leader or follower.",
	}, []string{"role"})
)
