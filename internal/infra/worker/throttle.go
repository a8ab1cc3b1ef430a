package worker

import (
	"time"

	"crm-job-engine/internal/domain/model"
)

const (
	// rampUpErrorRate and rampUpMaxLatency gate the cautious +1 path.
	rampUpErrorRate  = 0.05
	rampUpMaxLatency = 10 * time.Second
	backOffStep      = 2
	rampUpStep       = 1
)

// AdjustThrottle computes the next concurrency state from the current one
// and the rolling window. Pure: no shared mutation, so the asymmetric
// policy is testable in isolation.
//
// The asymmetry (subtract 2, add 1) biases toward caution: degrade fast
// under stress, recover only after the low-error signal persists. The
// costly failure mode here is an API rate-limit cascade.
func AdjustThrottle(state model.RunnerState, m model.WindowMetrics, errorRateThreshold float64) model.RunnerState {
	if m.Samples == 0 {
		return state
	}
	switch {
	case m.ErrorRate > errorRateThreshold:
		state.MaxConcurrent -= backOffStep
	case m.ErrorRate < rampUpErrorRate && m.AvgExecution < rampUpMaxLatency:
		state.MaxConcurrent += rampUpStep
	}
	return state.Clamp()
}
