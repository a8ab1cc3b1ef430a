package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"
	"crm-job-engine/internal/infra/logging"
	"crm-job-engine/internal/infra/metrics"
	"crm-job-engine/internal/usecase"

	"github.com/rs/zerolog"
)

// BreakerRecorder counts terminal failures toward chain suspension.
type BreakerRecorder interface {
	RecordFailure(ctx context.Context, userID string, root model.JobKind) (bool, error)
}

// ClaimPlanner trims a claim batch to this node's share of the fleet-wide
// distribution, so one node never claims past its capacity while others
// sit idle.
type ClaimPlanner interface {
	PlanClaim(ctx context.Context, candidates []*model.Job) ([]*model.Job, error)
}

// Config is the runner's static configuration.
type Config struct {
	NodeID             string
	PollInterval       time.Duration
	ErrorRateThreshold float64
	InitialConcurrency int
	MinConcurrency     int
	MaxConcurrency     int
	WindowSize         int
}

// Runner claims ready jobs and executes them with bounded, adaptively
// throttled concurrency. One runner per worker-node process; nodes
// coordinate only through the job store's atomic claim.
type Runner struct {
	cfg      Config
	jobs     repository.JobRepository
	ready    usecase.ReadinessUseCase
	registry *Registry
	res      usecase.ResourceSensor
	pause    usecase.PauseFlag
	breaker  BreakerRecorder
	planner  ClaimPlanner
	pool     *Pool
	window   *metricsWindow
	log      *zerolog.Logger

	mu      sync.Mutex
	state   model.RunnerState
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewRunner(
	cfg Config,
	jobs repository.JobRepository,
	ready usecase.ReadinessUseCase,
	registry *Registry,
	res usecase.ResourceSensor,
	pause usecase.PauseFlag,
	breaker BreakerRecorder,
	planner ClaimPlanner,
	logger *zerolog.Logger,
) *Runner {
	l := logger.With().Str("component", "Runner").Str("node_id", cfg.NodeID).Logger()
	return &Runner{
		cfg:      cfg,
		jobs:     jobs,
		ready:    ready,
		registry: registry,
		res:      res,
		pause:    pause,
		breaker:  breaker,
		planner:  planner,
		pool:     NewPool(cfg.MaxConcurrency, &l),
		window:   newMetricsWindow(cfg.WindowSize),
		log:      &l,
		state: model.RunnerState{
			MaxConcurrent:  cfg.InitialConcurrency,
			MinConcurrency: cfg.MinConcurrency,
			MaxConcurrency: cfg.MaxConcurrency,
		}.Clamp(),
	}
}

// Start begins the claim/execute loop in a background goroutine. The loop
// context is owned by the runner itself, never a caller's: an operator
// starting the runner over HTTP must not leash it to the request's
// lifetime. Calling Start on a running runner has no effect.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.pool.Start(ctx)
	go r.loop(ctx)
	r.log.Info().Int("concurrency", r.currentState().MaxConcurrent).Msg("runner started")
}

// Stop cancels the loop and waits for in-flight work to finish. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
	r.log.Info().Msg("runner stopped")
}

func (r *Runner) Restart() {
	r.Stop()
	r.pool = NewPool(r.cfg.MaxConcurrency, r.log)
	r.Start()
}

// Snapshot implements usecase.RunnerObserver.
func (r *Runner) Snapshot() model.RunnerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.RunnerSnapshot{
		Running: r.running,
		State:   r.state,
		Window:  r.window.snapshot(),
	}
}

func (r *Runner) currentState() model.RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle claims a bounded batch of ready jobs, executes it to
// completion, then feeds the rolling window into the throttle.
func (r *Runner) runCycle(ctx context.Context) {
	paused, err := r.pause.Paused(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("pause flag unavailable; proceeding")
	}
	if paused {
		return
	}

	limit := r.currentState().MaxConcurrent

	// Hard safety valve layered on top of the soft adaptive limit.
	if mem := r.res.GetMemoryUsage(); mem.ApproachingLimit {
		limit = limit / 2
		if limit < 1 {
			limit = 1
		}
		r.log.Warn().
			Float64("usage_percent", mem.UsagePercent).
			Int("reduced_limit", limit).
			Msg("memory pressure; dispatching reduced batch")
	}

	claimed := r.claimBatch(ctx, limit)
	if len(claimed) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, job := range claimed {
		job := job
		wg.Add(1)
		task := func(taskCtx context.Context) error {
			defer wg.Done()
			r.execute(taskCtx, job)
			return nil
		}
		if err := r.pool.Submit(ctx, task); err != nil {
			// Shutdown mid-cycle: release the claim so another node
			// picks the job up without waiting for stale reclaim.
			wg.Done()
			r.releaseClaim(job)
		}
	}
	wg.Wait()

	m := r.window.snapshot()
	r.mu.Lock()
	prev := r.state.MaxConcurrent
	r.state = AdjustThrottle(r.state, m, r.cfg.ErrorRateThreshold)
	next := r.state.MaxConcurrent
	r.mu.Unlock()

	metrics.SetRunnerConcurrency(next)
	metrics.SetRunnerErrorRate(m.ErrorRate)
	if next < prev {
		metrics.IncThrottleAdjust("down")
		r.log.Warn().
			Float64("error_rate", m.ErrorRate).
			Int("from", prev).Int("to", next).
			Msg("throttling down")
	} else if next > prev {
		metrics.IncThrottleAdjust("up")
		r.log.Debug().Int("from", prev).Int("to", next).Msg("ramping up")
	}
}

// claimBatch rotates across tenants with queued work to gather ready
// candidates, trims the batch to this node's fleet share, then finalizes
// the claim atomically through the store. Candidates lost to a concurrent
// claimer are silently absent from the result.
func (r *Runner) claimBatch(ctx context.Context, limit int) []*model.Job {
	users, err := r.jobs.UsersWithQueued(ctx, limit)
	if err != nil {
		r.log.Error().Err(err).Msg("could not list users with queued jobs")
		return nil
	}
	var candidates []*model.Job
	for _, user := range users {
		remaining := limit - len(candidates)
		if remaining <= 0 {
			break
		}
		jobs, err := r.ready.ListReady(ctx, user, remaining)
		if err != nil {
			r.log.Error().Err(err).Str("user_id", user).Msg("readiness listing failed")
			continue
		}
		candidates = append(candidates, jobs...)
	}
	if len(candidates) == 0 {
		return nil
	}

	if r.planner != nil {
		share, err := r.planner.PlanClaim(ctx, candidates)
		if err != nil {
			r.log.Warn().Err(err).Msg("claim planning failed; claiming unplanned")
		} else {
			candidates = share
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]string, len(candidates))
	for i, j := range candidates {
		ids[i] = j.ID
	}
	claimed, err := r.jobs.ClaimJobs(ctx, r.cfg.NodeID, ids)
	if err != nil {
		r.log.Error().Err(err).Msg("claim failed")
		return nil
	}
	return claimed
}

// execute runs one claimed job in isolation and reports the outcome.
// A panic or timeout surfaces only as this job's outcome, never as a
// runner crash.
func (r *Runner) execute(ctx context.Context, job *model.Job) {
	log := logging.With(
		logging.WithUserID(logging.WithJobID(ctx, job.ID), job.UserID), r.log)
	spec, ok := job.Kind.Spec()
	if !ok {
		r.report(ctx, job, model.Outcome{
			Failure:  model.FailurePermanent,
			Reason:   "unregistered job kind",
			Terminal: true,
		}, 0)
		return
	}

	handler, ok := r.registry.Lookup(job.Kind)
	if !ok {
		r.report(ctx, job, model.Outcome{
			Failure:  model.FailurePermanent,
			Reason:   fmt.Sprintf("no handler for kind %s", job.Kind),
			Terminal: true,
		}, spec.MaxRetries)
		return
	}

	log.Info().Str("kind", string(job.Kind)).Int("attempts", job.Attempts).Msg("executing job")
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	err := runIsolated(execCtx, handler, job)
	cancel()
	duration := time.Since(start)

	// A shutdown cancellation is not the job's failure: hand the claim
	// back without burning a retry attempt.
	if err != nil && execCtx.Err() == context.Canceled {
		log.Warn().Str("kind", string(job.Kind)).Msg("execution cancelled; releasing claim")
		r.releaseClaim(job)
		return
	}

	oc := r.classifyOutcome(err, execCtx, spec)
	final, repErr := r.jobs.MarkOutcome(context.Background(), job.ID, oc, spec.MaxRetries)
	if repErr != nil {
		log.Error().Err(repErr).Msg("failed to record job outcome")
		r.window.observe(false, duration)
		return
	}

	r.window.observe(oc.Success, duration)
	metrics.IncJobProcessed(string(job.Kind), string(final.Status))
	metrics.ObserveJobExecution(string(job.Kind), duration.Seconds())

	switch final.Status {
	case model.JobStatusDone:
		log.Info().Str("kind", string(job.Kind)).Dur("duration", duration).Msg("job done")
	case model.JobStatusQueued:
		log.Warn().
			Str("kind", string(job.Kind)).
			Str("failure", string(oc.Failure)).
			Str("reason", oc.Reason).
			Int("attempts", final.Attempts).
			Msg("job failed; requeued")
	case model.JobStatusError:
		log.Error().
			Str("kind", string(job.Kind)).
			Str("failure", string(oc.Failure)).
			Str("reason", oc.Reason).
			Int("attempts", final.Attempts).
			Msg("job failed terminally")
		r.recordChainFailure(job)
	}
}

func (r *Runner) classifyOutcome(err error, execCtx context.Context, spec model.KindSpec) model.Outcome {
	if err == nil {
		return model.Outcome{Success: true}
	}

	// A deadline hit is a timeout regardless of what error the handler
	// wrapped it in. Idempotency decides whether retrying is safe.
	if execCtx.Err() == context.DeadlineExceeded {
		return model.Outcome{
			Failure:  model.FailureTimeout,
			Reason:   fmt.Sprintf("execution exceeded %s deadline", spec.Timeout),
			Terminal: !spec.Idempotent,
		}
	}

	class, retryAfter := model.Classify(err)
	return model.Outcome{
		Failure:    class,
		Reason:     err.Error(),
		RetryAfter: retryAfter,
		Terminal:   class == model.FailurePermanent,
	}
}

func (r *Runner) recordChainFailure(job *model.Job) {
	if r.breaker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tripped, err := r.breaker.RecordFailure(ctx, job.UserID, job.Kind.Root())
	if err != nil {
		r.log.Warn().Err(err).Msg("breaker record failed")
		return
	}
	if tripped {
		metrics.IncBreakerTrip(string(job.Kind.Root()))
		r.log.Error().
			Str("user_id", job.UserID).
			Str("root_kind", string(job.Kind.Root())).
			Msg("chain circuit breaker tripped; suspending claims")
	}
}

func (r *Runner) report(ctx context.Context, job *model.Job, oc model.Outcome, maxRetries int) {
	if _, err := r.jobs.MarkOutcome(ctx, job.ID, oc, maxRetries); err != nil {
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to record job outcome")
	}
	r.window.observe(oc.Success, 0)
}

func (r *Runner) releaseClaim(job *model.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.jobs.ReleaseJob(ctx, job.ID); err != nil {
		r.log.Error().Err(err).Str("job_id", job.ID).Msg("could not release claim")
	}
}

// runIsolated executes the handler so that a panic surfaces as an error
// instead of tearing down the worker.
func runIsolated(ctx context.Context, h Handler, job *model.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h.Handle(ctx, job)
}
