package repository

import (
	"context"

	"crm-job-engine/internal/domain/model"
)

// WorkerNodeRepository is the port for the ephemeral node registry.
// Backed by Redis: registration records are cheap to refresh and the
// registry must be visible to every node for reaping.
type WorkerNodeRepository interface {
	Register(ctx context.Context, node *model.WorkerNode) error
	// Heartbeat refreshes LastHeartbeatAt; returns
	// domain.ErrNodeNotRegistered if the node was reaped, so the caller
	// knows to re-register.
	Heartbeat(ctx context.Context, nodeID string) error
	List(ctx context.Context) ([]*model.WorkerNode, error)
	// Remove deletes the registration record. Removing an absent node is
	// a no-op, which is what makes reaping idempotent.
	Remove(ctx context.Context, nodeID string) error
}
