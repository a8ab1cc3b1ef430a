package usecase

import (
	"context"

	"crm-job-engine/internal/domain"
	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ ControlUseCase = (*controlUC)(nil)

// RunnerControl is the minimal lifecycle surface the control API needs
// from the local runner. The runner owns its own loop context; a caller's
// request-scoped context must never bound the loop's lifetime.
type RunnerControl interface {
	Start()
	Stop()
	Restart()
}

// Cleaner is the manual memory-reclaim hook exposed as a control action.
type Cleaner interface {
	ForceCleanup() int
}

// PauseFlag is the cluster-wide pause switch.
type PauseFlag interface {
	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}

// BreakerControl lets operators clear a tripped chain suspension.
type BreakerControl interface {
	Reset(ctx context.Context, userID string, root model.JobKind) error
}

// ControlUseCase applies operator actions to a specific job or the whole
// queue.
type ControlUseCase interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Retry(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
	Prioritize(ctx context.Context, jobID string, priority int) error
	ResetChain(ctx context.Context, userID string, kind model.JobKind) error
	Cleanup(ctx context.Context) error
}

type controlUC struct {
	jobs    repository.JobRepository
	runner  RunnerControl
	pause   PauseFlag
	breaker BreakerControl
	cleaner Cleaner
	log     *zerolog.Logger
}

func NewControlUseCase(jobs repository.JobRepository, runner RunnerControl, pause PauseFlag, breaker BreakerControl, cleaner Cleaner, logger *zerolog.Logger) *controlUC {
	l := logger.With().Str("component", "ControlUC").Logger()
	return &controlUC{jobs: jobs, runner: runner, pause: pause, breaker: breaker, cleaner: cleaner, log: &l}
}

func (u *controlUC) Start(ctx context.Context) error {
	u.runner.Start()
	u.log.Info().Msg("runner started by operator")
	return nil
}

func (u *controlUC) Stop(ctx context.Context) error {
	u.runner.Stop()
	u.log.Info().Msg("runner stopped by operator")
	return nil
}

func (u *controlUC) Restart(ctx context.Context) error {
	u.runner.Restart()
	u.log.Info().Msg("runner restarted by operator")
	return nil
}

func (u *controlUC) Pause(ctx context.Context) error {
	return u.pause.SetPaused(ctx, true)
}

func (u *controlUC) Resume(ctx context.Context) error {
	return u.pause.SetPaused(ctx, false)
}

// Retry resets a terminally errored job for another run.
func (u *controlUC) Retry(ctx context.Context, jobID string) error {
	if jobID == "" {
		return domain.ErrInvalidArgument
	}
	if err := u.jobs.Requeue(ctx, jobID); err != nil {
		return err
	}
	u.log.Info().Str("job_id", jobID).Msg("job requeued by operator")
	return nil
}

func (u *controlUC) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return domain.ErrInvalidArgument
	}
	if err := u.jobs.Cancel(ctx, jobID); err != nil {
		return err
	}
	u.log.Info().Str("job_id", jobID).Msg("job cancelled by operator")
	return nil
}

func (u *controlUC) Prioritize(ctx context.Context, jobID string, priority int) error {
	if jobID == "" {
		return domain.ErrInvalidArgument
	}
	return u.jobs.Prioritize(ctx, jobID, priority)
}

func (u *controlUC) ResetChain(ctx context.Context, userID string, kind model.JobKind) error {
	if userID == "" || !kind.Valid() {
		return domain.ErrInvalidArgument
	}
	return u.breaker.Reset(ctx, userID, kind.Root())
}

func (u *controlUC) Cleanup(ctx context.Context) error {
	freed := u.cleaner.ForceCleanup()
	u.log.Info().Int("freed", freed).Msg("cleanup forced by operator")
	return nil
}
