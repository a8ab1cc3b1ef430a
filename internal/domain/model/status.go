package model

import "time"

// Readiness is the result of evaluating whether a queued job may be
// claimed right now. Blocked is reported distinctly from plain queued so
// cascade failures are visible, not silently merged.
type Readiness string

const (
	ReadinessReady     Readiness = "ready"
	ReadinessWaiting   Readiness = "waiting"   // predecessors not done yet
	ReadinessBackoff   Readiness = "backoff"   // inside retry delay window
	ReadinessBlocked   Readiness = "blocked"   // predecessor terminally failed
	ReadinessSuspended Readiness = "suspended" // chain circuit breaker open
	ReadinessExhausted Readiness = "exhausted" // retry budget spent
)

// QueueStatus is the GET /status payload.
type QueueStatus struct {
	Depth       map[JobStatus]int       `json:"depth"`
	ByKind      map[JobKind]KindCounts  `json:"by_kind"`
	Blocked     int                     `json:"blocked"`
	Nodes       []NodeStatus            `json:"nodes"`
	HealthScore int                     `json:"health_score"`
	Uptime      time.Duration           `json:"uptime_ns"`
	Runner      RunnerSnapshot          `json:"runner"`
	Memory      MemoryUsage             `json:"memory"`
	Readiness   map[Readiness]int       `json:"readiness"`
	Paused      bool                    `json:"paused"`
}

type KindCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
}

type NodeStatus struct {
	NodeID        string    `json:"node_id"`
	Capacity      int       `json:"capacity"`
	Claimed       int       `json:"claimed"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Stale         bool      `json:"stale"`
}

// DashboardReport is the GET /dashboard payload.
type DashboardReport struct {
	ThroughputPerHour int             `json:"throughput_per_hour"`
	SuccessRate       float64         `json:"success_rate"`
	ErrorRate         float64         `json:"error_rate"`
	AvgProcessingMS   int64           `json:"avg_processing_ms"`
	PerKindDone       map[JobKind]int `json:"per_kind_done"`
	PerKindError      map[JobKind]int `json:"per_kind_error"`
	Alerts            []Alert         `json:"alerts"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type Alert struct {
	Severity string    `json:"severity"` // info|warning|critical
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
