package model

import (
	"time"

	"crm-job-engine/internal/domain"
)

// WorkerNode is the ephemeral registration record for one worker process.
// A node that stops heartbeating past the stale threshold is reaped: its
// registration is removed and its processing claims are released.
type WorkerNode struct {
	NodeID          string
	Capacity        int
	LastHeartbeatAt time.Time
	RegisteredAt    time.Time
}

func NewWorkerNode(nodeID string, capacity int) (*WorkerNode, error) {
	if nodeID == "" || capacity <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &WorkerNode{
		NodeID:          nodeID,
		Capacity:        capacity,
		LastHeartbeatAt: now,
		RegisteredAt:    now,
	}, nil
}

// Stale reports whether the node missed heartbeats past threshold.
func (n *WorkerNode) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(n.LastHeartbeatAt) > threshold
}
