package usecase

import (
	"context"

	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ EnqueueUseCase = (*enqueueUC)(nil)

// EnqueueUseCase is the job-creation entrypoint used by external
// collaborators (sync triggers, user actions) and by handlers emitting
// follow-on jobs.
type EnqueueUseCase interface {
	// Enqueue validates and persists a new queued job. An empty batchID
	// starts a new batch; the generated batch ID is returned on the job.
	Enqueue(ctx context.Context, userID string, kind model.JobKind, payload []byte, batchID string) (*model.Job, error)
}

type enqueueUC struct {
	jobs repository.JobRepository
	log  *zerolog.Logger
}

func NewEnqueueUseCase(jobs repository.JobRepository, logger *zerolog.Logger) *enqueueUC {
	l := logger.With().Str("component", "EnqueueUC").Logger()
	return &enqueueUC{jobs: jobs, log: &l}
}

func (u *enqueueUC) Enqueue(ctx context.Context, userID string, kind model.JobKind, payload []byte, batchID string) (*model.Job, error) {
	if batchID == "" {
		// ULIDs sort by creation time, which keeps one sync run's jobs
		// adjacent in batch-keyed scans.
		batchID = ulid.Make().String()
	}
	job, err := model.NewJob(userID, kind, payload, batchID)
	if err != nil {
		return nil, err
	}
	if err := u.jobs.Insert(ctx, nil, job); err != nil {
		return nil, err
	}
	u.log.Debug().
		Str("job_id", job.ID).
		Str("kind", string(kind)).
		Str("batch_id", batchID).
		Msg("job enqueued")
	return job, nil
}
