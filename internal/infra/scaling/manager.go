package scaling

import (
	"context"
	"errors"
	"sort"
	"time"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"
	"crm-job-engine/internal/infra/metrics"
	rd "crm-job-engine/internal/infra/redis"

	"github.com/rs/zerolog"
)

const reapLockKey = "jobengine:reap-lock"

// Manager coordinates this worker node with the rest of the fleet:
// registration, heartbeats and reaping of dead nodes. Claim atomicity
// still rests with the job store; distribution here is an optimization,
// not a correctness mechanism.
type Manager struct {
	nodeID    string
	capacity  int
	nodes     repository.WorkerNodeRepository
	jobs      repository.JobRepository
	locker    rd.Locker
	staleness time.Duration
	log       *zerolog.Logger
}

func NewManager(
	nodeID string,
	capacity int,
	nodes repository.WorkerNodeRepository,
	jobs repository.JobRepository,
	locker rd.Locker,
	staleness time.Duration,
	logger *zerolog.Logger,
) *Manager {
	l := logger.With().Str("component", "ScalingManager").Str("node_id", nodeID).Logger()
	return &Manager{
		nodeID:    nodeID,
		capacity:  capacity,
		nodes:     nodes,
		jobs:      jobs,
		locker:    locker,
		staleness: staleness,
		log:       &l,
	}
}

// Register records this node and starts its heartbeat clock.
func (m *Manager) Register(ctx context.Context) error {
	node, err := model.NewWorkerNode(m.nodeID, m.capacity)
	if err != nil {
		return err
	}
	if err := m.nodes.Register(ctx, node); err != nil {
		return err
	}
	m.log.Info().Int("capacity", m.capacity).Msg("node registered")
	return nil
}

// Heartbeat refreshes this node's registration. A node reaped while
// still alive (long GC pause, network partition) re-registers.
func (m *Manager) Heartbeat(ctx context.Context) error {
	err := m.nodes.Heartbeat(ctx, m.nodeID)
	if errors.Is(err, domain.ErrNodeNotRegistered) {
		m.log.Warn().Msg("node was reaped while alive; re-registering")
		return m.Register(ctx)
	}
	return err
}

// Deregister removes this node and releases its claims, for clean
// shutdown.
func (m *Manager) Deregister(ctx context.Context) error {
	released, err := m.jobs.ReleaseClaims(ctx, m.nodeID)
	if err != nil {
		return err
	}
	if released > 0 {
		m.log.Info().Int("released", released).Msg("released claims on shutdown")
	}
	return m.nodes.Remove(ctx, m.nodeID)
}

// ReapStale releases the claims of every node that missed heartbeats
// past the threshold and removes its registration. Guarded by a
// cluster-wide lock so only one node reaps per pass; reaping an
// already-reaped node is a no-op.
func (m *Manager) ReapStale(ctx context.Context) (int, error) {
	token, err := m.locker.TryLock(ctx, reapLockKey, m.staleness/2)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return 0, nil // another node is reaping
		}
		return 0, err
	}
	defer func() { _ = m.locker.Unlock(ctx, reapLockKey, token) }()

	nodes, err := m.nodes.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	reaped := 0
	totalReleased := 0
	var live []string
	for _, node := range nodes {
		if !node.Stale(now, m.staleness) {
			live = append(live, node.NodeID)
			continue
		}
		released, err := m.jobs.ReleaseClaims(ctx, node.NodeID)
		if err != nil {
			m.log.Error().Err(err).Str("dead_node", node.NodeID).Msg("could not release claims")
			continue
		}
		if err := m.nodes.Remove(ctx, node.NodeID); err != nil {
			m.log.Error().Err(err).Str("dead_node", node.NodeID).Msg("could not remove node record")
			continue
		}
		reaped++
		totalReleased += released
		m.log.Warn().
			Str("dead_node", node.NodeID).
			Int("released", released).
			Time("last_heartbeat", node.LastHeartbeatAt).
			Msg("reaped stale node")
	}

	// Safety net: processing rows older than the threshold whose
	// claimant left no registry record. Live nodes are excluded so a
	// legitimately long execution is never handed to a second node.
	orphaned, err := m.jobs.ReleaseStaleClaims(ctx, now.Add(-m.staleness), live)
	if err != nil {
		m.log.Error().Err(err).Msg("orphaned claim sweep failed")
	} else {
		totalReleased += orphaned
	}

	if totalReleased > 0 {
		metrics.AddStaleClaimsReleased(totalReleased)
	}
	metrics.SetNodesActive(len(nodes) - reaped)
	return totalReleased, nil
}

// PlanClaim bounds one claim cycle: the candidates are distributed across
// the live fleet by current load, and only this node's share is returned.
// Every node runs the same assignment over the same store state, so the
// shares rarely overlap; the store's conditional claim settles the races
// that remain. Degrades to the full candidate list when the registry or
// load counts are unavailable.
func (m *Manager) PlanClaim(ctx context.Context, candidates []*model.Job) ([]*model.Job, error) {
	nodes, err := m.nodes.List(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("node registry unavailable; claiming unplanned")
		return candidates, nil
	}
	now := time.Now()
	live := nodes[:0]
	for _, n := range nodes {
		if !n.Stale(now, m.staleness) {
			live = append(live, n)
		}
	}
	if len(live) == 0 {
		return candidates, nil
	}
	load, err := m.jobs.CountProcessingByNode(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("load counts unavailable; claiming unplanned")
		return candidates, nil
	}
	return DistributeJobs(candidates, live, load)[m.nodeID], nil
}

// DistributeJobs assigns jobs to nodes least-loaded-first, never pushing
// a node past its remaining capacity in one round. Leftover jobs carry
// to the next round.
func DistributeJobs(jobs []*model.Job, nodes []*model.WorkerNode, load map[string]int) map[string][]*model.Job {
	assignment := make(map[string][]*model.Job)
	if len(nodes) == 0 {
		return assignment
	}

	type slot struct {
		nodeID    string
		remaining int
	}
	slots := make([]*slot, 0, len(nodes))
	for _, n := range nodes {
		remaining := n.Capacity - load[n.NodeID]
		if remaining > 0 {
			slots = append(slots, &slot{nodeID: n.NodeID, remaining: remaining})
		}
	}

	for _, job := range jobs {
		// Pick the slot with the most remaining headroom.
		sort.SliceStable(slots, func(i, k int) bool {
			return slots[i].remaining > slots[k].remaining
		})
		if len(slots) == 0 || slots[0].remaining == 0 {
			break // all nodes full; remainder waits for the next round
		}
		s := slots[0]
		assignment[s.nodeID] = append(assignment[s.nodeID], job)
		s.remaining--
	}
	return assignment
}
