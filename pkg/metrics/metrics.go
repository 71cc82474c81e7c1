package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Controller metrics
	ApplicationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hyac_applications_total",
			Help: "Total number of applications by status",
		},
		[]string{"status"},
	)

	TasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyac_tasks_processed_total",
			Help: "Total number of tasks processed by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyac_reconciliation_cycles_total",
			Help: "Total number of status reconciliation cycles",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyac_reconciliation_duration_seconds",
			Help:    "Status reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ColdStartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyac_cold_starts_total",
			Help: "Total number of lazy-start proxy cold starts",
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyac_container_start_duration_seconds",
			Help:    "Time to bring a runtime container to ready in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90},
		},
	)

	ScheduledDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyac_scheduled_dispatch_total",
			Help: "Total number of scheduled task dispatches by outcome",
		},
		[]string{"outcome"},
	)

	// Runtime metrics
	FunctionInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyac_function_invocations_total",
			Help: "Total number of function invocations by status",
		},
		[]string{"status"},
	)

	FunctionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyac_function_duration_seconds",
			Help:    "Function execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CodeCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyac_code_cache_hits_total",
			Help: "Total number of code cache hits",
		},
	)

	CodeCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hyac_code_cache_misses_total",
			Help: "Total number of code cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ApplicationsTotal,
		TasksProcessedTotal,
		ReconciliationCyclesTotal,
		ReconciliationDuration,
		ColdStartsTotal,
		ContainerStartDuration,
		ScheduledDispatchTotal,
		FunctionInvocationsTotal,
		FunctionDuration,
		CodeCacheHits,
		CodeCacheMisses,
	)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and feeds it to a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time on the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}
