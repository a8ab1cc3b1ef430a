package usecase

import (
	"context"
	"sort"
	"time"

	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ReadinessUseCase = (*readinessUC)(nil)

// ChainGate is the circuit-breaker view the readiness check consults:
// a chain rooted at a repeatedly failing kind is skipped entirely.
type ChainGate interface {
	Allow(ctx context.Context, userID string, root model.JobKind) (bool, error)
}

// ReadinessUseCase decides which queued jobs are eligible to run right
// now, respecting phase ordering, cross-kind dependencies and retry
// backoff. Claim finalization is the caller's: the runner trims the
// candidate batch to its fleet share before claiming through the store.
type ReadinessUseCase interface {
	// ListReady returns up to limit ready jobs for the user, highest
	// priority first and FIFO within a tier.
	ListReady(ctx context.Context, userID string, limit int) ([]*model.Job, error)

	// Evaluate classifies a single queued job without claiming it. Used
	// by the status surface to report blocked jobs distinctly.
	Evaluate(ctx context.Context, job *model.Job) (model.Readiness, error)
}

type readinessUC struct {
	jobs repository.JobRepository
	gate ChainGate
	log  *zerolog.Logger
}

func NewReadinessUseCase(jobs repository.JobRepository, gate ChainGate, logger *zerolog.Logger) *readinessUC {
	l := logger.With().Str("component", "ReadinessUC").Logger()
	return &readinessUC{jobs: jobs, gate: gate, log: &l}
}

func (u *readinessUC) ListReady(ctx context.Context, userID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Over-fetch 2x: dependency and backoff checks filter candidates out,
	// and re-querying per shortfall would cost more than the wider scan.
	candidates, err := u.jobs.FetchQueued(ctx, userID, limit*2)
	if err != nil {
		return nil, err
	}

	ready := make([]*model.Job, 0, limit)
	for _, job := range candidates {
		state, err := u.Evaluate(ctx, job)
		if err != nil {
			u.log.Error().Err(err).Str("job_id", job.ID).Msg("readiness evaluation failed")
			continue
		}
		if state == model.ReadinessReady {
			ready = append(ready, job)
		}
	}

	// Priority first, then FIFO within a tier. Advisory fairness only:
	// concurrent claims across nodes may interleave.
	sort.SliceStable(ready, func(i, k int) bool {
		if ready[i].Priority != ready[k].Priority {
			return ready[i].Priority > ready[k].Priority
		}
		return ready[i].CreatedAt.Before(ready[k].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (u *readinessUC) Evaluate(ctx context.Context, job *model.Job) (model.Readiness, error) {
	now := time.Now()

	// Defensive: a job past its retry budget should already be in error.
	if job.AttemptsExhausted() {
		return model.ReadinessExhausted, nil
	}
	if job.InBackoff(now) {
		return model.ReadinessBackoff, nil
	}

	spec, ok := job.Kind.Spec()
	if !ok {
		return model.ReadinessExhausted, nil
	}

	if u.gate != nil {
		allowed, err := u.gate.Allow(ctx, job.UserID, job.Kind.Root())
		if err != nil {
			u.log.Warn().Err(err).Msg("chain gate unavailable; allowing")
		} else if !allowed {
			return model.ReadinessSuspended, nil
		}
	}

	if len(spec.DependsOn) == 0 {
		return model.ReadinessReady, nil
	}

	// Known N+1 shape: one predecessor query per candidate. Accepted
	// cost for auditability; the batch index keeps it cheap.
	predecessors, err := u.jobs.FindCorrelated(ctx, job.UserID, job.BatchID, spec.DependsOn)
	if err != nil {
		return "", err
	}
	for _, p := range predecessors {
		switch p.Status {
		case model.JobStatusError:
			// Blocked, never auto-failed: the job waits for predecessor
			// resolution or manual intervention.
			return model.ReadinessBlocked, nil
		case model.JobStatusDone:
			// satisfied
		default:
			return model.ReadinessWaiting, nil
		}
	}
	return model.ReadinessReady, nil
}
