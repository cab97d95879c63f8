package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"leadline/internal/engine"
)

// Scheduler triggers the escalation sweep on a fixed interval. The sweep
// lease serializes sweeps across instances, so running a scheduler in
// every instance is safe: at most one wins each tick, the rest observe
// an active sweep and skip.
type Scheduler struct {
	engine   engine.Engine
	log      *zap.Logger
	interval time.Duration
}

func NewScheduler(e engine.Engine, log *zap.Logger, interval time.Duration) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{engine: e, log: log, interval: interval}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	res, err := s.engine.RunEscalationCycle(ctx)
	switch {
	case errors.Is(err, engine.ErrSweepActive):
		s.log.Debug("escalation sweep already running")
	case err != nil:
		if ctx.Err() == nil {
			s.log.Error("escalation sweep failed", zap.Error(err))
		}
	default:
		s.log.Info("escalation sweep finished",
			zap.Int("stale_flagged", res.StaleContactsFlagged),
			zap.Int("hot_notified", res.HotLeadsNotified),
			zap.Int("overdue_escalated", res.OverdueTasksEscalated),
			zap.Int("errors", len(res.Errors)))
	}
}
