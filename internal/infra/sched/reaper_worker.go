package sched

import (
	"context"
	"time"

	"crm-job-engine/internal/infra/scaling"

	"github.com/rs/zerolog"
)

// ReaperWorker periodically removes dead worker nodes from the registry and
// releases their job claims. Every node runs one; the reap lock ensures only
// one pass happens per interval cluster-wide.
type ReaperWorker struct {
	interval time.Duration
	scaler   *scaling.Manager
	log      *zerolog.Logger
}

func NewReaperWorker(interval time.Duration, scaler *scaling.Manager, logger *zerolog.Logger) *ReaperWorker {
	reaperLog := logger.With().Str("component", "ReaperWorker").Logger()
	return &ReaperWorker{
		interval: interval,
		scaler:   scaler,
		log:      &reaperLog,
	}
}

func (w *ReaperWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting reaper worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reaper worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.scaler.ReapStale(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("reaper worker error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stale nodes reaped")
			}
		}
	}
}
