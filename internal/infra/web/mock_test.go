//go:build !integration

package web

import (
	"context"
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

type mockEnqueueUC struct {
	EnqueueFunc func(ctx context.Context, userID string, kind model.JobKind, payload []byte, batchID string) (*model.Job, error)
}

func (m *mockEnqueueUC) Enqueue(ctx context.Context, userID string, kind model.JobKind, payload []byte, batchID string) (*model.Job, error) {
	return m.EnqueueFunc(ctx, userID, kind, payload, batchID)
}

type mockControlUC struct {
	actions []string
	err     error
}

func (m *mockControlUC) record(a string) error {
	m.actions = append(m.actions, a)
	return m.err
}

func (m *mockControlUC) Start(ctx context.Context) error   { return m.record("start") }
func (m *mockControlUC) Stop(ctx context.Context) error    { return m.record("stop") }
func (m *mockControlUC) Restart(ctx context.Context) error { return m.record("restart") }
func (m *mockControlUC) Pause(ctx context.Context) error   { return m.record("pause") }
func (m *mockControlUC) Resume(ctx context.Context) error  { return m.record("resume") }
func (m *mockControlUC) Retry(ctx context.Context, jobID string) error {
	return m.record("retry:" + jobID)
}
func (m *mockControlUC) Cancel(ctx context.Context, jobID string) error {
	return m.record("cancel:" + jobID)
}
func (m *mockControlUC) Prioritize(ctx context.Context, jobID string, priority int) error {
	return m.record("prioritize:" + jobID)
}
func (m *mockControlUC) ResetChain(ctx context.Context, userID string, kind model.JobKind) error {
	return m.record("reset_chain:" + userID + ":" + string(kind))
}
func (m *mockControlUC) Cleanup(ctx context.Context) error { return m.record("cleanup") }

type mockStatsUC struct {
	status    *model.QueueStatus
	dashboard *model.DashboardReport
	err       error
}

func (m *mockStatsUC) Status(ctx context.Context) (*model.QueueStatus, error) {
	return m.status, m.err
}

func (m *mockStatsUC) Dashboard(ctx context.Context) (*model.DashboardReport, error) {
	return m.dashboard, m.err
}

// mockJobRepo serves only the lookup path the web surface exercises.
type mockJobRepo struct {
	jobs map[string]*model.Job
}

func (m *mockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (m *mockJobRepo) Insert(ctx context.Context, tx repository.Tx, job *model.Job) error { return nil }
func (m *mockJobRepo) FetchQueued(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	return nil, nil
}
func (m *mockJobRepo) FindCorrelated(ctx context.Context, userID, batchID string, kinds []model.JobKind) ([]*model.Job, error) {
	return nil, nil
}
func (m *mockJobRepo) ClaimJobs(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error) {
	return nil, nil
}
func (m *mockJobRepo) MarkOutcome(ctx context.Context, jobID string, oc model.Outcome, maxRetries int) (*model.Job, error) {
	return nil, domain.ErrNotFound
}
func (m *mockJobRepo) ReleaseJob(ctx context.Context, jobID string) error { return nil }
func (m *mockJobRepo) ReleaseClaims(ctx context.Context, nodeID string) (int, error) {
	return 0, nil
}
func (m *mockJobRepo) ReleaseStaleClaims(ctx context.Context, before time.Time, liveNodes []string) (int, error) {
	return 0, nil
}
func (m *mockJobRepo) Requeue(ctx context.Context, jobID string) error { return nil }
func (m *mockJobRepo) Cancel(ctx context.Context, jobID string) error  { return nil }
func (m *mockJobRepo) Prioritize(ctx context.Context, jobID string, priority int) error {
	return nil
}
func (m *mockJobRepo) UsersWithQueued(ctx context.Context, limit int) ([]string, error) {
	return nil, nil
}
func (m *mockJobRepo) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	return nil, nil
}
func (m *mockJobRepo) CountByKindStatus(ctx context.Context) ([]repository.KindStatusCount, error) {
	return nil, nil
}
func (m *mockJobRepo) CountProcessingByNode(ctx context.Context) (map[string]int, error) {
	return nil, nil
}
func (m *mockJobRepo) OutcomesSince(ctx context.Context, since time.Time) (*repository.OutcomeStats, error) {
	return &repository.OutcomeStats{}, nil
}
