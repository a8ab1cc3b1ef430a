package repository

import (
	"context"
	"time"

	"crm-job-engine/internal/domain/model"
)

// KindStatusCount is one row of the per-kind status breakdown.
type KindStatusCount struct {
	Kind   model.JobKind
	Status model.JobStatus
	Count  int
}

// OutcomeStats aggregates terminal outcomes over a time window, for the
// dashboard KPIs.
type OutcomeStats struct {
	Done            int
	Error           int
	AvgProcessingMS int64
}

// JobRepository is the port for the persistent job store. The store is the
// single source of truth across worker nodes; its conditional-update claim
// is the only mutation serialization point in the system.
type JobRepository interface {
	// Insert persists a new queued job. Payload bounds are validated in
	// the model constructor; Insert re-checks defensively and fails with
	// domain.ErrPayloadTooLarge without creating a row.
	Insert(ctx context.Context, tx Tx, job *model.Job) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)

	// FetchQueued returns up to limit queued jobs for the user ordered by
	// most recently updated. Callers over-fetch and filter for readiness
	// in process.
	FetchQueued(ctx context.Context, userID string, limit int) ([]*model.Job, error)

	// FindCorrelated returns jobs of the given kinds sharing the user and
	// batch correlation key, for predecessor checks.
	FindCorrelated(ctx context.Context, userID, batchID string, kinds []model.JobKind) ([]*model.Job, error)

	// ClaimJobs atomically transitions the given jobs from queued to
	// processing on behalf of nodeID and returns the rows actually won.
	// Jobs claimed concurrently by another node are silently skipped:
	// the conditional update is what guarantees at-most-one-claim.
	ClaimJobs(ctx context.Context, nodeID string, jobIDs []string) ([]*model.Job, error)

	// MarkOutcome finalizes one execution attempt. On failure the job
	// re-queues with attempts+1 unless the outcome is terminal or the
	// retry budget (maxRetries for its kind) is spent, in which case it
	// becomes error. retryDelay overrides the next-eligible time when a
	// rate-limit hint was supplied.
	MarkOutcome(ctx context.Context, jobID string, oc model.Outcome, maxRetries int) (*model.Job, error)

	// ReleaseJob resets a single processing job back to queued without
	// counting an attempt, for claims that never started executing.
	ReleaseJob(ctx context.Context, jobID string) error

	// ReleaseClaims resets all processing jobs claimed by nodeID back to
	// queued. Idempotent; returns the number of jobs released.
	ReleaseClaims(ctx context.Context, nodeID string) (int, error)

	// ReleaseStaleClaims resets processing jobs untouched since before
	// whose claimant is not in liveNodes. Safety net for nodes that
	// vanished without a registry record; claims held by live nodes are
	// never touched, however long the job runs.
	ReleaseStaleClaims(ctx context.Context, before time.Time, liveNodes []string) (int, error)

	// Requeue resets a terminally errored job for another run (manual
	// retry): error -> queued, attempts zeroed, failure context cleared.
	Requeue(ctx context.Context, jobID string) error

	// Cancel marks a queued job as error with a cancellation reason.
	// Processing jobs cannot be cancelled mid-flight.
	Cancel(ctx context.Context, jobID string) error

	// Prioritize bumps the priority of a queued job.
	Prioritize(ctx context.Context, jobID string, priority int) error

	// UsersWithQueued lists distinct users that have queued jobs, oldest
	// queued first, so claim cycles rotate fairly across tenants.
	UsersWithQueued(ctx context.Context, limit int) ([]string, error)

	CountByStatus(ctx context.Context) (map[model.JobStatus]int, error)
	CountByKindStatus(ctx context.Context) ([]KindStatusCount, error)
	CountProcessingByNode(ctx context.Context) (map[string]int, error)
	OutcomesSince(ctx context.Context, since time.Time) (*OutcomeStats, error)
}
