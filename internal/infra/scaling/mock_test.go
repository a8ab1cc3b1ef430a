//go:build !integration

package scaling

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

// fakeNodes is an in-memory node registry.
type fakeNodes struct {
	mu    sync.Mutex
	store map[string]*model.WorkerNode
	err   error
}

func newFakeNodes() *fakeNodes {
	return &fakeNodes{store: make(map[string]*model.WorkerNode)}
}

func (f *fakeNodes) Register(ctx context.Context, node *model.WorkerNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *node
	f.store[node.NodeID] = &cp
	return nil
}

func (f *fakeNodes) Heartbeat(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.store[nodeID]
	if !ok {
		return domain.ErrNodeNotRegistered
	}
	n.LastHeartbeatAt = time.Now()
	return nil
}

func (f *fakeNodes) List(ctx context.Context) ([]*model.WorkerNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.WorkerNode
	for _, n := range f.store {
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeNodes) Remove(ctx context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, nodeID)
	return nil
}

// fakeJobs records the coordination calls the manager makes; the rest of
// the repository surface is unused here.
type fakeJobs struct {
	repository.JobRepository

	mu             sync.Mutex
	load           map[string]int
	releasedNodes  []string
	sweepBefore    time.Time
	sweepLiveNodes []string
	sweepCalls     int
	sweepReleased  int
}

func (f *fakeJobs) ReleaseClaims(ctx context.Context, nodeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releasedNodes = append(f.releasedNodes, nodeID)
	return f.load[nodeID], nil
}

func (f *fakeJobs) ReleaseStaleClaims(ctx context.Context, before time.Time, liveNodes []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweepCalls++
	f.sweepBefore = before
	f.sweepLiveNodes = append([]string(nil), liveNodes...)
	return f.sweepReleased, nil
}

func (f *fakeJobs) CountProcessingByNode(ctx context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load, nil
}

// fakeLocker grants the lock unless held.
type fakeLocker struct {
	held bool
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.held {
		return "", domain.ErrAlreadyExists
	}
	return "token", nil
}

func (l *fakeLocker) Unlock(ctx context.Context, key, token string) error { return nil }
