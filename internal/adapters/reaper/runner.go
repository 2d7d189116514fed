// Package reaper runs the background sweep that recovers abandoned jobs and
// prunes old terminal ones.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quietcut/quietcut/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Reaper *service.Reaper
	// Interval is the time between sweeps. Defaults to 1m.
	Interval time.Duration
	Logger   *slog.Logger
}

// Runner drives periodic reaper sweeps until its context is cancelled. A
// failing sweep is logged and retried on the next tick.
type Runner struct {
	reaper   *service.Reaper
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Reaper == nil {
		return nil, errors.New("reaper service is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		reaper:   opts.Reaper,
		interval: interval,
		logger:   logger.With("component", "reaper_runner"),
	}, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner", "interval", r.interval)

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "reaper runner stopped")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	if err := r.reaper.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.ErrorContext(ctx, "reaper sweep failed", "error", err)
	}
}
