//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memJobRepo is a small in-memory job store used by unit tests. Per-method
// Func hooks let individual tests override behavior or simulate failures.
type memJobRepo struct {
	mu    sync.RWMutex
	store map[string]*model.Job

	InsertFunc         func(ctx context.Context, tx repository.Tx, job *model.Job) error
	FetchQueuedFunc    func(ctx context.Context, userID string, limit int) ([]*model.Job, error)
	FindCorrelatedFunc func(ctx context.Context, userID, batchID string, kinds []model.JobKind) ([]*model.Job, error)
	ClaimJobsFunc      func(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error)
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.Job)}
}

func (m *memJobRepo) put(job *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
}

func (m *memJobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, job)
	}
	m.put(job)
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) FetchQueued(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	if m.FetchQueuedFunc != nil {
		return m.FetchQueuedFunc(ctx, userID, limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.UserID == userID && j.Status == model.JobStatusQueued && len(out) < limit {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobRepo) FindCorrelated(ctx context.Context, userID, batchID string, kinds []model.JobKind) ([]*model.Job, error) {
	if m.FindCorrelatedFunc != nil {
		return m.FindCorrelatedFunc(ctx, userID, batchID, kinds)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.UserID != userID || j.BatchID != batchID {
			continue
		}
		for _, k := range kinds {
			if j.Kind == k {
				cp := *j
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memJobRepo) ClaimJobs(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error) {
	if m.ClaimJobsFunc != nil {
		return m.ClaimJobsFunc(ctx, nodeID, jobIDs)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, id := range jobIDs {
		j, ok := m.store[id]
		if !ok || j.Status != model.JobStatusQueued {
			continue
		}
		if err := j.MarkProcessing(nodeID, time.Now()); err != nil {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobRepo) MarkOutcome(ctx context.Context, jobID string, oc model.Outcome, maxRetries int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now()
	var err error
	if oc.Success {
		err = j.MarkDone(now)
	} else {
		err = j.MarkFailed(oc.Failure, oc.Reason, oc.Terminal, oc.RetryAfter, now)
	}
	if err != nil {
		return nil, err
	}
	cp := *j
	return &cp, nil
}

func (m *memJobRepo) ReleaseJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	j.Status = model.JobStatusQueued
	j.ClaimedBy = ""
	return nil
}

func (m *memJobRepo) ReleaseClaims(ctx context.Context, nodeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.store {
		if j.Status == model.JobStatusProcessing && j.ClaimedBy == nodeID {
			j.Status = model.JobStatusQueued
			j.ClaimedBy = ""
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) ReleaseStaleClaims(ctx context.Context, before time.Time, liveNodes []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := map[string]bool{}
	for _, n := range liveNodes {
		live[n] = true
	}
	n := 0
	for _, j := range m.store {
		if j.Status == model.JobStatusProcessing && j.UpdatedAt.Before(before) && !live[j.ClaimedBy] {
			j.Status = model.JobStatusQueued
			j.ClaimedBy = ""
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) Requeue(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobStatusError {
		return domain.ErrInvalidTransition
	}
	j.Status = model.JobStatusQueued
	j.Attempts = 0
	j.FailureKind = ""
	j.FailureReason = ""
	j.FailedAt = nil
	j.NotBefore = nil
	return nil
}

func (m *memJobRepo) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobStatusQueued {
		return domain.ErrInvalidTransition
	}
	j.Status = model.JobStatusError
	j.FailureKind = model.FailurePermanent
	j.FailureReason = "cancelled by operator"
	return nil
}

func (m *memJobRepo) Prioritize(ctx context.Context, jobID string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != model.JobStatusQueued {
		return domain.ErrInvalidTransition
	}
	j.Priority = priority
	return nil
}

func (m *memJobRepo) UsersWithQueued(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, j := range m.store {
		if j.Status == model.JobStatusQueued && !seen[j.UserID] && len(out) < limit {
			seen[j.UserID] = true
			out = append(out, j.UserID)
		}
	}
	return out, nil
}

func (m *memJobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.JobStatus]int)
	for _, j := range m.store {
		out[j.Status]++
	}
	return out, nil
}

func (m *memJobRepo) CountByKindStatus(ctx context.Context) ([]repository.KindStatusCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[model.JobKind]map[model.JobStatus]int{}
	for _, j := range m.store {
		if counts[j.Kind] == nil {
			counts[j.Kind] = map[model.JobStatus]int{}
		}
		counts[j.Kind][j.Status]++
	}
	var out []repository.KindStatusCount
	for kind, byStatus := range counts {
		for status, n := range byStatus {
			out = append(out, repository.KindStatusCount{Kind: kind, Status: status, Count: n})
		}
	}
	return out, nil
}

func (m *memJobRepo) CountProcessingByNode(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, j := range m.store {
		if j.Status == model.JobStatusProcessing {
			out[j.ClaimedBy]++
		}
	}
	return out, nil
}

func (m *memJobRepo) OutcomesSince(ctx context.Context, since time.Time) (*repository.OutcomeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &repository.OutcomeStats{}
	for _, j := range m.store {
		if j.UpdatedAt.Before(since) {
			continue
		}
		switch j.Status {
		case model.JobStatusDone:
			stats.Done++
		case model.JobStatusError:
			stats.Error++
		}
	}
	return stats, nil
}

// memNodeRepo is an in-memory node registry.
type memNodeRepo struct {
	mu    sync.RWMutex
	store map[string]*model.WorkerNode
}

func newMemNodeRepo() *memNodeRepo {
	return &memNodeRepo{store: make(map[string]*model.WorkerNode)}
}

func (m *memNodeRepo) Register(ctx context.Context, node *model.WorkerNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *node
	m.store[node.NodeID] = &cp
	return nil
}

func (m *memNodeRepo) Heartbeat(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.store[nodeID]
	if !ok {
		return domain.ErrNodeNotRegistered
	}
	n.LastHeartbeatAt = time.Now()
	return nil
}

func (m *memNodeRepo) List(ctx context.Context) ([]*model.WorkerNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WorkerNode
	for _, n := range m.store {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memNodeRepo) Remove(ctx context.Context, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, nodeID)
	return nil
}

// stubGate is a settable chain gate.
type stubGate struct {
	allow    bool
	err      error
	resets   []string
	failures []string
}

func (g *stubGate) Allow(ctx context.Context, userID string, root model.JobKind) (bool, error) {
	return g.allow, g.err
}

func (g *stubGate) Reset(ctx context.Context, userID string, root model.JobKind) error {
	g.resets = append(g.resets, userID+"/"+string(root))
	return nil
}

func (g *stubGate) RecordFailure(ctx context.Context, userID string, root model.JobKind) (bool, error) {
	g.failures = append(g.failures, userID+"/"+string(root))
	return false, nil
}

// stubRunner records lifecycle calls.
type stubRunner struct {
	starts, stops, restarts int
	snapshot                model.RunnerSnapshot
}

func (r *stubRunner) Start()   { r.starts++ }
func (r *stubRunner) Stop()    { r.stops++ }
func (r *stubRunner) Restart() { r.restarts++ }
func (r *stubRunner) Snapshot() model.RunnerSnapshot {
	return r.snapshot
}

// stubCleaner counts forced cleanups.
type stubCleaner struct {
	freed int
	calls int
}

func (c *stubCleaner) ForceCleanup() int {
	c.calls++
	return c.freed
}

// stubPause is an in-memory pause flag.
type stubPause struct {
	mu     sync.Mutex
	paused bool
}

func (p *stubPause) Paused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused, nil
}

func (p *stubPause) SetPaused(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	return nil
}

// stubSensor returns a fixed memory reading.
type stubSensor struct {
	usage model.MemoryUsage
}

func (s *stubSensor) GetMemoryUsage() model.MemoryUsage { return s.usage }
