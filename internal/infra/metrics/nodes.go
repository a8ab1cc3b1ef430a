package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(nodesActive, staleClaimsReleasedTotal, breakerTripsTotal) }

var nodesActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "worker_nodes_active",
		Help: "Registered worker nodes after the last reap pass.",
	},
)

var staleClaimsReleasedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stale_claims_released_total",
		Help: "Processing jobs returned to queued after their claimant died.",
	},
)

var breakerTripsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chain_breaker_trips_total",
		Help: "Dependency-chain circuit breaker trips, labeled by root kind.",
	},
	[]string{"root_kind"},
)

func SetNodesActive(n int)          { nodesActive.Set(float64(n)) }
func AddStaleClaimsReleased(n int)  { staleClaimsReleasedTotal.Add(float64(n)) }
func IncBreakerTrip(rootKind string) {
	breakerTripsTotal.WithLabelValues(norm(rootKind)).Inc()
}
