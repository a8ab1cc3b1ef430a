package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(runnerConcurrency, runnerErrorRate, throttleAdjustsTotal) }

var runnerConcurrency = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "runner_max_concurrent_jobs",
		Help: "Current adaptive concurrency limit of this node's runner.",
	},
)

var runnerErrorRate = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "runner_window_error_rate",
		Help: "Error rate over the rolling execution window.",
	},
)

var throttleAdjustsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "runner_throttle_adjusts_total",
		Help: "Concurrency adjustments applied, labeled by direction.",
	},
	[]string{"direction"}, // 'up', 'down'
)

func SetRunnerConcurrency(n int)  { runnerConcurrency.Set(float64(n)) }
func SetRunnerErrorRate(r float64) { runnerErrorRate.Set(r) }
func IncThrottleAdjust(direction string) {
	throttleAdjustsTotal.WithLabelValues(norm(direction)).Inc()
}
