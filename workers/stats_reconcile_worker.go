package workers

import (
	"context"
	"time"

	"community-rewards-system/services"

	"go.uber.org/zap"
)

// StatsReconcileWorker periodically repairs derived aggregates and grants
// attendance rewards that never landed.
type StatsReconcileWorker struct {
	reconciler *services.Reconciler
	interval   time.Duration
	log        *zap.Logger
}

func NewStatsReconcileWorker(r *services.Reconciler, interval time.Duration, log *zap.Logger) *StatsReconcileWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StatsReconcileWorker{reconciler: r, interval: interval, log: log}
}

// Start blocks until ctx is cancelled.
func (w *StatsReconcileWorker) Start(ctx context.Context) {
	w.log.Info("stats reconcile worker started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stats reconcile worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *StatsReconcileWorker) runOnce(ctx context.Context) {
	started := time.Now()
	report, err := w.reconciler.Run(ctx)
	if err != nil {
		w.log.Error("stats reconcile failed", zap.Error(err))
		return
	}
	w.log.Info("stats reconcile finished",
		zap.Int("users_checked", report.UsersChecked),
		zap.Int("users_fixed", report.UsersFixed),
		zap.Int("events_fixed", report.EventsFixed),
		zap.Int("awards_granted", report.AwardsGranted),
		zap.Int("rewards_granted", report.RewardsGranted),
		zap.Duration("took", time.Since(started)),
	)
}
