package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Controller metrics
	ControllerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_controller_duration_seconds",
			Help:    "Wall-clock lifetime of a reservation controller from init to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	HeartbeatsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_heartbeats_total",
			Help: "Total number of liveness heartbeats recorded",
		},
	)

	// Barrier metrics
	BarrierPollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_barrier_polls_total",
			Help: "Total number of stage-log polls performed by barrier waits",
		},
	)

	BarrierWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paddock_barrier_wait_seconds",
			Help:    "Duration of barrier waits in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 11),
		},
	)

	// Cascade metrics
	CascadesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paddock_cascades_total",
			Help: "Total number of failure cascades by outcome (failed or deleted)",
		},
		[]string{"outcome"},
	)

	// Store metrics
	StoreMutationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paddock_store_mutation_errors_total",
			Help: "Total number of best-effort store mutations that failed during cascade or teardown",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ControllerDuration)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(BarrierPollsTotal)
	prometheus.MustRegister(BarrierWaitDuration)
	prometheus.MustRegister(CascadesTotal)
	prometheus.MustRegister(StoreMutationErrors)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
