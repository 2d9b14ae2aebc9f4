// Package jobs runs periodic settlement work on a ticker, at most once at a
// time across replicas when a Lease is configured.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run and the lease that guards it. Defaults to Interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

func (j Job) timeout() time.Duration {
	if j.Timeout > 0 {
		return j.Timeout
	}
	return j.Interval
}

type Runner struct {
	lease  Lease
	logger *slog.Logger
}

// NewRunner builds a runner. A nil lease runs every tick locally, which is
// only safe with a single settlement replica.
func NewRunner(lease Lease, logger *slog.Logger) *Runner {
	return &Runner{lease: lease, logger: logger}
}

// Start runs job immediately and then on every tick until ctx is canceled.
func (r *Runner) Start(ctx context.Context, job Job) {
	r.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval.String())

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx, job); err != nil {
			r.logger.Error("job failed", "error", err, "job", job.Name)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("job stopped", "job", job.Name)
			return
		case <-ticker.C:
		}
	}
}

// RunOnce runs job if the lease is free. It reports whether the job ran.
func (r *Runner) RunOnce(ctx context.Context, job Job) (bool, error) {
	ttl := job.timeout()

	if r.lease != nil {
		token, ok, err := r.lease.Acquire(ctx, job.Name, ttl)
		if err != nil {
			return false, err
		}
		if !ok {
			r.logger.Debug("job lease held elsewhere", "job", job.Name)
			return false, nil
		}
		defer func() {
			if err := r.lease.Release(context.WithoutCancel(ctx), job.Name, token); err != nil {
				r.logger.Error("failed to release job lease", "error", err, "job", job.Name)
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		return true, err
	}

	r.logger.Info("job finished", "job", job.Name, "duration", time.Since(start).String())
	return true, nil
}
