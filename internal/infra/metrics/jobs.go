package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsEnqueuedTotal, jobsProcessedTotal, jobExecutionSeconds) }

var jobsEnqueuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_enqueued_total",
		Help: "Total number of jobs inserted, labeled by kind.",
	},
	[]string{"kind"},
)

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "jobs_processed_total",
		Help: "Total execution attempts finalized, labeled by kind and resulting status.",
	},
	[]string{"kind", "status"}, // 'done', 'queued' (retry), 'error'
)

var jobExecutionSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "job_execution_seconds",
		Help:    "Per-kind job execution duration distribution.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	},
	[]string{"kind"},
)

func IncJobEnqueued(kind string) {
	jobsEnqueuedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobProcessed(kind, status string) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func ObserveJobExecution(kind string, seconds float64) {
	jobExecutionSeconds.WithLabelValues(norm(kind)).Observe(seconds)
}
