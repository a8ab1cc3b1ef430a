package sched

import (
	"context"
	"time"

	"crm-job-engine/internal/infra/scaling"

	"github.com/rs/zerolog"
)

// HeartbeatWorker keeps this node's registry record fresh so the reaper does
// not release its claims.
type HeartbeatWorker struct {
	interval time.Duration
	scaler   *scaling.Manager
	log      *zerolog.Logger
}

func NewHeartbeatWorker(interval time.Duration, scaler *scaling.Manager, logger *zerolog.Logger) *HeartbeatWorker {
	hbLog := logger.With().Str("component", "HeartbeatWorker").Logger()
	return &HeartbeatWorker{
		interval: interval,
		scaler:   scaler,
		log:      &hbLog,
	}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scaler.Heartbeat(ctx); err != nil {
				w.log.Error().Err(err).Msg("heartbeat failed")
			}
		}
	}
}
