// Package jobrunner runs the worker loop: reserve queued jobs, execute the
// silence-removal pipeline, and record the terminal transition.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quietcut/quietcut/internal/core"
	"github.com/quietcut/quietcut/internal/domain/job"
	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/observability/metrics"
	"github.com/quietcut/quietcut/internal/observability/statsd"
)

// JobLifecycle is the slice of the job service the runner drives.
type JobLifecycle interface {
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	Complete(ctx context.Context, id string, details model.CompletionDetails) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
}

// Processor executes the media pipeline for one reserved job.
type Processor interface {
	Process(ctx context.Context, job *model.Job) (model.CompletionDetails, error)
}

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs      JobLifecycle
	Processor Processor
	// Notifier wakes idle workers when new jobs arrive; nil workers poll on
	// the throttle delay instead.
	Notifier job.Notifier
	// Limiter gates job starts across all worker processes; nil disables
	// rate limiting.
	Limiter core.RateLimiter

	Lease       time.Duration // per-job lease duration; defaults to 10m
	Concurrency int           // number of worker goroutines; defaults to 1
	// ShutdownGrace bounds how long an in-flight job may keep running after
	// the run context is cancelled. Defaults to 30s.
	ShutdownGrace time.Duration
	// ThrottleDelay is slept between rate-limited reservation attempts.
	ThrottleDelay time.Duration

	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner pulls jobs off the queue and executes them with bounded concurrency.
type Runner struct {
	jobs          JobLifecycle
	processor     Processor
	notifier      job.Notifier
	limiter       core.RateLimiter
	leasePolicy   *job.LeasePolicy
	workers       int
	shutdownGrace time.Duration
	throttleDelay time.Duration
	logger        *slog.Logger
	metrics       statsd.Sink
}

// NewRunner wires a job runner from the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job lifecycle is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	leasePolicy, err := job.NewLeasePolicy(lease)
	if err != nil {
		return nil, fmt.Errorf("lease policy: %w", err)
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	throttle := opts.ThrottleDelay
	if throttle <= 0 {
		throttle = time.Second
	}

	return &Runner{
		jobs:          opts.Jobs,
		processor:     opts.Processor,
		notifier:      opts.Notifier,
		limiter:       opts.Limiter,
		leasePolicy:   leasePolicy,
		workers:       workers,
		shutdownGrace: grace,
		throttleDelay: throttle,
		logger:        logger.With("component", "job_runner"),
		metrics:       opts.Metrics,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. Cancellation stops new reservations; in-flight jobs get the
// shutdown grace period to finish before their contexts are cut.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"lease", r.leasePolicy.Default(),
		"shutdown_grace", r.shutdownGrace,
	)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.workerLoop(ctx)
		})
	}

	err := g.Wait()
	r.logger.InfoContext(context.WithoutCancel(ctx), "job runner stopped")
	return err
}

func (r *Runner) workerLoop(ctx context.Context) error {
	var notify <-chan struct{}
	if r.notifier != nil {
		unsub, ch := r.notifier.Subscribe()
		defer unsub()
		notify = ch
	}

	for ctx.Err() == nil {
		if !r.waitForSlot(ctx) {
			return nil
		}

		leaseSeconds := r.leasePolicy.Resolve(0)
		reserved, err := r.jobs.ReserveNext(ctx, leaseSeconds)
		switch {
		case err == nil:
			if reserved != nil {
				r.processJob(ctx, reserved)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForSlot blocks until the rate limiter admits a job start or ctx ends.
func (r *Runner) waitForSlot(ctx context.Context) bool {
	if r.limiter == nil {
		return true
	}
	for {
		allowed, err := r.limiter.Allow(ctx)
		if err != nil {
			// The limiter fails open on its own errors; anything surfacing
			// here means ctx ended mid-check.
			return ctx.Err() == nil
		}
		if allowed {
			return true
		}
		if r.metrics != nil {
			r.metrics.Count("runner.rate_limited", 1, nil)
		}
		if !sleepCtx(ctx, r.throttleDelay) {
			return false
		}
	}
}

// waitForWork blocks on the availability notifier, or falls back to a plain
// sleep when no notifier is wired.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	if notify == nil {
		return sleepCtx(ctx, r.throttleDelay)
	}
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-notify:
		return ok
	}
}

// processJob executes one reserved job and records the outcome. The job runs
// on a context that survives runner shutdown for the grace period, so a
// cancel mid-job does not immediately kill ffmpeg.
func (r *Runner) processJob(ctx context.Context, reserved *model.Job) {
	start := time.Now()

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(r.shutdownGrace, cancel)
	})
	defer stop()

	r.logger.InfoContext(jobCtx, "processing job", "job_id", reserved.ID, "input_key", reserved.InputKey)

	details, err := r.processor.Process(jobCtx, reserved)
	if err != nil {
		if jobCtx.Err() != nil {
			// Shutdown interrupted the attempt. Leave the job processing; the
			// lease expires and another worker picks it up.
			r.logger.WarnContext(context.WithoutCancel(jobCtx), "abandoning job on shutdown",
				"job_id", reserved.ID, "error", err)
			r.emit("abandon", metrics.ResultNoop, start, nil)
			return
		}
		if _, ferr := r.jobs.Fail(jobCtx, reserved.ID, err.Error()); ferr != nil {
			r.logger.ErrorContext(jobCtx, "fail job error",
				"job_id", reserved.ID, "error", ferr, "original_error", err)
		}
		r.emit("failed", metrics.ResultError, start, err)
		return
	}

	if completed, cerr := r.jobs.Complete(jobCtx, reserved.ID, details); cerr != nil {
		r.logger.ErrorContext(jobCtx, "complete job error", "job_id", reserved.ID, "error", cerr)
		r.emit("completed", metrics.ResultError, start, cerr)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		r.emit("completed", result, start, nil)
	}
}

func (r *Runner) emit(transition, result string, start time.Time, err error) {
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
