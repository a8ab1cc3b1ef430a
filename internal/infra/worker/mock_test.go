//go:build !integration

package worker

import (
	"context"
	"errors"
	"sort"
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

// memJobs is an in-memory job store covering the slice of the repository
// the runner touches. Jobs listed in lost are won by a rival node first,
// so ClaimJobs silently skips them.
type memJobs struct {
	repository.JobRepository

	mu       sync.Mutex
	store    map[string]*model.Job
	lost     map[string]bool
	releases int
	marks    int
}

func newMemJobs() *memJobs {
	return &memJobs{store: make(map[string]*model.Job), lost: make(map[string]bool)}
}

func (m *memJobs) seed(j *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.store[j.ID] = &cp
}

func (m *memJobs) get(id string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[id]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}

func (m *memJobs) queued(userID string) []*model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.store {
		if j.UserID == userID && j.Status == model.JobStatusQueued {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (m *memJobs) UsersWithQueued(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var users []string
	for _, j := range m.store {
		if j.Status == model.JobStatusQueued && !seen[j.UserID] {
			seen[j.UserID] = true
			users = append(users, j.UserID)
		}
	}
	sort.Strings(users)
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (m *memJobs) ClaimJobs(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var won []*model.Job
	for _, id := range jobIDs {
		j, ok := m.store[id]
		if !ok || j.Status != model.JobStatusQueued || m.lost[id] {
			continue
		}
		j.Status = model.JobStatusProcessing
		j.ClaimedBy = nodeID
		j.UpdatedAt = time.Now()
		cp := *j
		won = append(won, &cp)
	}
	return won, nil
}

func (m *memJobs) MarkOutcome(ctx context.Context, jobID string, oc model.Outcome, maxRetries int) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	m.marks++
	j.Attempts++
	switch {
	case oc.Success:
		j.Status = model.JobStatusDone
	case oc.Terminal || j.Attempts > maxRetries:
		j.Status = model.JobStatusError
		j.FailureKind = oc.Failure
		j.FailureReason = oc.Reason
	default:
		j.Status = model.JobStatusQueued
		j.ClaimedBy = ""
		j.FailureKind = oc.Failure
		j.FailureReason = oc.Reason
	}
	j.UpdatedAt = time.Now()
	cp := *j
	return &cp, nil
}

func (m *memJobs) ReleaseJob(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.store[jobID]
	if !ok || j.Status != model.JobStatusProcessing {
		return domain.ErrNotFound
	}
	m.releases++
	j.Status = model.JobStatusQueued
	j.ClaimedBy = ""
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJobs) releaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

func (m *memJobs) markCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks
}

// stubReady serves queued jobs straight from the store and records the
// limit of every listing, to make batch sizing observable.
type stubReady struct {
	jobs *memJobs

	mu     sync.Mutex
	limits []int
}

func (s *stubReady) ListReady(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	s.mu.Lock()
	s.limits = append(s.limits, limit)
	s.mu.Unlock()
	ready := s.jobs.queued(userID)
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *stubReady) Evaluate(ctx context.Context, job *model.Job) (model.Readiness, error) {
	return model.ReadinessReady, nil
}

func (s *stubReady) recordedLimits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.limits...)
}

type stubSensor struct {
	usage model.MemoryUsage
}

func (s *stubSensor) GetMemoryUsage() model.MemoryUsage { return s.usage }

type stubPause struct {
	mu     sync.Mutex
	paused bool
}

func (s *stubPause) Paused(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *stubPause) SetPaused(ctx context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}

// stubPlanner can pass candidates through, swallow them all, or fail.
type stubPlanner struct {
	empty bool
	err   error

	mu    sync.Mutex
	calls int
	seen  int
}

func (s *stubPlanner) PlanClaim(ctx context.Context, candidates []*model.Job) ([]*model.Job, error) {
	s.mu.Lock()
	s.calls++
	s.seen += len(candidates)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.empty {
		return nil, nil
	}
	return candidates, nil
}

func (s *stubPlanner) candidatesSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

type stubBreaker struct {
	mu      sync.Mutex
	records int
}

func (s *stubBreaker) RecordFailure(ctx context.Context, userID string, root model.JobKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	return false, nil
}

type stubBreakerCtl struct{}

func (stubBreakerCtl) Reset(ctx context.Context, userID string, root model.JobKind) error {
	return nil
}

type stubCleaner struct{}

func (stubCleaner) ForceCleanup() int { return 0 }

var errBoom = errors.New("boom")

func testConfig() Config {
	return Config{
		NodeID:             "node-test",
		PollInterval:       5 * time.Millisecond,
		ErrorRateThreshold: 0.5,
		InitialConcurrency: 4,
		MinConcurrency:     1,
		MaxConcurrency:     8,
		WindowSize:         16,
	}
}

func testJob(userID string, kind model.JobKind) (*model.Job, error) {
	return model.NewJob(userID, kind, nil, "batch-1")
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
