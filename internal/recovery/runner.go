package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/dukalink/dukalink-backend/pkg/logger"
)

// Runner executes the reconciliation pass on a fixed interval, guarded by
// the distributed lock.
type Runner struct {
	svc      Service
	lock     *Lock
	interval time.Duration
	logg     *logger.Logger
}

// NewRunner wires the recovery loop.
func NewRunner(svc Service, lock *Lock, interval time.Duration, logg *logger.Logger) (*Runner, error) {
	if svc == nil {
		return nil, fmt.Errorf("recovery service required")
	}
	if lock == nil {
		return nil, fmt.Errorf("recovery lock required")
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{svc: svc, lock: lock, interval: interval, logg: logg}, nil
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	acquired, err := r.lock.Acquire(ctx)
	if err != nil {
		if r.logg != nil {
			r.logg.Error(ctx, "acquiring recovery lock", err)
		}
		return
	}
	if !acquired {
		if r.logg != nil {
			r.logg.Info(ctx, "recovery lock held elsewhere, skipping pass")
		}
		return
	}
	defer func() {
		if releaseErr := r.lock.Release(ctx); releaseErr != nil && r.logg != nil {
			r.logg.Error(ctx, "releasing recovery lock", releaseErr)
		}
	}()

	report, err := r.svc.Run(ctx)
	if err != nil && r.logg != nil {
		r.logg.Error(ctx, "recovery pass finished with repair errors", err)
	}
	if report != nil && r.logg != nil {
		r.logg.Info(ctx, fmt.Sprintf("recovery pass complete: %d repairs in %s",
			report.TotalRepaired(), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))
	}
}
