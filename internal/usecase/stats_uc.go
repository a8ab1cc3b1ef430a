package usecase

import (
	"context"
	"fmt"
	"time"

	"crm-job-engine/internal/domain/model"
	"crm-job-engine/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

// RunnerObserver exposes the local runner's state to the status surface.
type RunnerObserver interface {
	Snapshot() model.RunnerSnapshot
}

// ResourceSensor exposes the current memory pressure reading.
type ResourceSensor interface {
	GetMemoryUsage() model.MemoryUsage
}

// StatsUseCase assembles the status and dashboard payloads consumed by
// the excluded UI layer.
type StatsUseCase interface {
	Status(ctx context.Context) (*model.QueueStatus, error)
	Dashboard(ctx context.Context) (*model.DashboardReport, error)
}

type statsUC struct {
	jobs       repository.JobRepository
	nodes      repository.WorkerNodeRepository
	ready      ReadinessUseCase
	runner     RunnerObserver
	res        ResourceSensor
	pause      PauseFlag
	staleAfter time.Duration
	startedAt  time.Time

	log *zerolog.Logger
}

func NewStatsUseCase(
	jobs repository.JobRepository,
	nodes repository.WorkerNodeRepository,
	ready ReadinessUseCase,
	runner RunnerObserver,
	res ResourceSensor,
	pause PauseFlag,
	staleAfter time.Duration,
	logger *zerolog.Logger,
) *statsUC {
	l := logger.With().Str("component", "StatsUC").Logger()
	return &statsUC{
		jobs:       jobs,
		nodes:      nodes,
		ready:      ready,
		runner:     runner,
		res:        res,
		pause:      pause,
		staleAfter: staleAfter,
		startedAt:  time.Now(),
		log:        &l,
	}
}

// statusScanLimit bounds the readiness classification pass; a queue deep
// enough to exceed it is itself the headline number.
const statusScanLimit = 500

func (s *statsUC) Status(ctx context.Context) (*model.QueueStatus, error) {
	depth, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	kindRows, err := s.jobs.CountByKindStatus(ctx)
	if err != nil {
		return nil, err
	}
	byKind := make(map[model.JobKind]model.KindCounts)
	for _, row := range kindRows {
		c := byKind[row.Kind]
		switch row.Status {
		case model.JobStatusQueued:
			c.Queued = row.Count
		case model.JobStatusProcessing:
			c.Processing = row.Count
		case model.JobStatusDone:
			c.Done = row.Count
		case model.JobStatusError:
			c.Error = row.Count
		}
		byKind[row.Kind] = c
	}

	readiness, blocked := s.classifyQueued(ctx)

	nodes, err := s.nodeStatuses(ctx)
	if err != nil {
		return nil, err
	}

	paused, err := s.pause.Paused(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("pause flag unavailable")
	}

	snap := s.runner.Snapshot()
	mem := s.res.GetMemoryUsage()

	return &model.QueueStatus{
		Depth:       depth,
		ByKind:      byKind,
		Blocked:     blocked,
		Nodes:       nodes,
		HealthScore: healthScore(snap, mem, nodes, blocked),
		Uptime:      time.Since(s.startedAt),
		Runner:      snap,
		Memory:      mem,
		Readiness:   readiness,
		Paused:      paused,
	}, nil
}

func (s *statsUC) Dashboard(ctx context.Context) (*model.DashboardReport, error) {
	now := time.Now()
	stats, err := s.jobs.OutcomesSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	total := stats.Done + stats.Error
	successRate := 1.0
	if total > 0 {
		successRate = float64(stats.Done) / float64(total)
	}

	kindRows, err := s.jobs.CountByKindStatus(ctx)
	if err != nil {
		return nil, err
	}
	perDone := make(map[model.JobKind]int)
	perError := make(map[model.JobKind]int)
	for _, row := range kindRows {
		switch row.Status {
		case model.JobStatusDone:
			perDone[row.Kind] = row.Count
		case model.JobStatusError:
			perError[row.Kind] = row.Count
		}
	}

	snap := s.runner.Snapshot()
	mem := s.res.GetMemoryUsage()
	nodes, err := s.nodeStatuses(ctx)
	if err != nil {
		return nil, err
	}
	_, blocked := s.classifyQueued(ctx)

	var alerts []model.Alert
	if mem.ApproachingLimit {
		alerts = append(alerts, model.Alert{
			Severity: "warning",
			Message:  fmt.Sprintf("memory pressure: %.0f%% of ceiling", mem.UsagePercent),
			At:       now,
		})
	}
	if snap.Window.ErrorRate > 0.15 {
		alerts = append(alerts, model.Alert{
			Severity: "critical",
			Message:  fmt.Sprintf("error rate %.0f%% exceeds throttle threshold", snap.Window.ErrorRate*100),
			At:       now,
		})
	}
	for _, n := range nodes {
		if n.Stale {
			alerts = append(alerts, model.Alert{
				Severity: "warning",
				Message:  fmt.Sprintf("node %s has missed heartbeats", n.NodeID),
				At:       now,
			})
		}
	}
	if blocked > 0 {
		alerts = append(alerts, model.Alert{
			Severity: "warning",
			Message:  fmt.Sprintf("%d jobs blocked on failed predecessors", blocked),
			At:       now,
		})
	}

	return &model.DashboardReport{
		ThroughputPerHour: stats.Done,
		SuccessRate:       successRate,
		ErrorRate:         1 - successRate,
		AvgProcessingMS:   stats.AvgProcessingMS,
		PerKindDone:       perDone,
		PerKindError:      perError,
		Alerts:            alerts,
		GeneratedAt:       now,
	}, nil
}

// classifyQueued runs the readiness evaluation over a bounded slice of
// queued jobs so blocked jobs surface distinctly from plain queued.
func (s *statsUC) classifyQueued(ctx context.Context) (map[model.Readiness]int, int) {
	readiness := make(map[model.Readiness]int)
	users, err := s.jobs.UsersWithQueued(ctx, 50)
	if err != nil {
		s.log.Warn().Err(err).Msg("could not list users with queued jobs")
		return readiness, 0
	}
	scanned := 0
	for _, user := range users {
		if scanned >= statusScanLimit {
			break
		}
		jobs, err := s.jobs.FetchQueued(ctx, user, statusScanLimit-scanned)
		if err != nil {
			continue
		}
		for _, job := range jobs {
			state, err := s.ready.Evaluate(ctx, job)
			if err != nil {
				continue
			}
			readiness[state]++
			scanned++
		}
	}
	return readiness, readiness[model.ReadinessBlocked]
}

func (s *statsUC) nodeStatuses(ctx context.Context) ([]model.NodeStatus, error) {
	nodes, err := s.nodes.List(ctx)
	if err != nil {
		return nil, err
	}
	load, err := s.jobs.CountProcessingByNode(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]model.NodeStatus, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, model.NodeStatus{
			NodeID:        n.NodeID,
			Capacity:      n.Capacity,
			Claimed:       load[n.NodeID],
			LastHeartbeat: n.LastHeartbeatAt,
			Stale:         n.Stale(now, s.staleAfter),
		})
	}
	return out, nil
}

// healthScore reduces the system state to a 0-100 number for the UI:
// start at 100, subtract for error rate, memory pressure, stale nodes
// and blocked buildup.
func healthScore(snap model.RunnerSnapshot, mem model.MemoryUsage, nodes []model.NodeStatus, blocked int) int {
	score := 100
	score -= int(snap.Window.ErrorRate * 100)
	if mem.ApproachingLimit {
		score -= 20
	}
	for _, n := range nodes {
		if n.Stale {
			score -= 10
		}
	}
	if blocked > 0 {
		score -= 10
	}
	if !snap.Running {
		score -= 30
	}
	if score < 0 {
		score = 0
	}
	return score
}
