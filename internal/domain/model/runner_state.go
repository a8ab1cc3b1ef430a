package model

import "time"

// RunnerState is the runner's concurrency configuration. It is a value
// type: the throttle computes a new state from the old one instead of
// mutating shared fields in place, which keeps the adjustment logic
// independently testable.
type RunnerState struct {
	MaxConcurrent  int
	MinConcurrency int
	MaxConcurrency int
}

// Clamp bounds MaxConcurrent to [MinConcurrency, MaxConcurrency].
func (s RunnerState) Clamp() RunnerState {
	if s.MaxConcurrent < s.MinConcurrency {
		s.MaxConcurrent = s.MinConcurrency
	}
	if s.MaxConcurrent > s.MaxConcurrency {
		s.MaxConcurrent = s.MaxConcurrency
	}
	return s
}

// WindowMetrics summarizes the rolling window of recent executions.
type WindowMetrics struct {
	Samples      int
	ErrorRate    float64
	AvgExecution time.Duration
}

// RunnerSnapshot is the point-in-time view exposed to the status surface.
type RunnerSnapshot struct {
	Running bool
	State   RunnerState
	Window  WindowMetrics
}

// MemoryUsage is the resource manager's pressure reading.
type MemoryUsage struct {
	HeapUsedMB   float64
	HeapTotalMB  float64
	RSSMB        float64
	UsagePercent float64
	// ApproachingLimit is true above 80% of the configured ceiling and
	// acts as a hard safety valve on top of the adaptive throttle.
	ApproachingLimit bool
}
