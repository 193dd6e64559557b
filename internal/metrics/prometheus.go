package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	KVOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "culture_kv_operations_total",
			Help: "Key-value operations by backend, operation and outcome",
		},
		[]string{"backend", "op", "status"},
	)

	KVDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "culture_kv_operation_duration_seconds",
			Help:    "Key-value operation latency including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"backend", "op"},
	)

	KVRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "culture_kv_retries_total",
			Help: "Retries issued after transient backend failures",
		},
		[]string{"backend"},
	)

	KVDegraded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "culture_kv_degraded",
			Help: "1 while the backend is marked degraded",
		},
		[]string{"backend"},
	)

	RepositoryConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "culture_repository_conflicts_total",
			Help: "Compare-and-swap conflicts on collection writes",
		},
		[]string{"collection"},
	)

	AggregationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "culture_aggregation_duration_seconds",
			Help:    "Aggregation run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind"},
	)

	AggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "culture_aggregation_runs_total",
			Help: "Aggregation runs by kind and outcome",
		},
		[]string{"kind", "status"},
	)
)

func Init() {
	prometheus.MustRegister(KVOperations)
	prometheus.MustRegister(KVDuration)
	prometheus.MustRegister(KVRetries)
	prometheus.MustRegister(KVDegraded)
	prometheus.MustRegister(RepositoryConflicts)
	prometheus.MustRegister(AggregationDuration)
	prometheus.MustRegister(AggregationRuns)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
