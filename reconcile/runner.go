package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules the sweep and reconciliation jobs.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewRunner registers both jobs on their cron schedules (standard cron
// expressions or @every descriptors).
func NewRunner(svc *Service, sweepSchedule, reconcileSchedule string, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cron.New()

	if _, err := c.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := svc.Sweep(ctx); err != nil {
			logger.Error("payout sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("reconcile: bad sweep schedule %q: %w", sweepSchedule, err)
	}

	if _, err := c.AddFunc(reconcileSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := svc.Reconcile(ctx); err != nil {
			logger.Error("reconciliation failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("reconcile: bad reconcile schedule %q: %w", reconcileSchedule, err)
	}

	return &Runner{cron: c, logger: logger}, nil
}

// Start launches the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.logger.Info("reconcile runner started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("reconcile runner stopped")
}
