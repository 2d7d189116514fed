package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quietcut/quietcut/internal/observability/statsd"
)

// ReaperRepository is the slice of the job repository the reaper needs.
type ReaperRepository interface {
	RequeueExpired(ctx context.Context) (int64, error)
	DeleteOldTerminalJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// ReaperOptions groups the dependencies for NewReaper.
type ReaperOptions struct {
	Jobs    ReaperRepository
	Logger  *slog.Logger
	Metrics statsd.Sink
	// RetentionMaxAge is how long terminal jobs are kept before deletion.
	RetentionMaxAge time.Duration
	// DeleteBatchSize caps deletions per sweep.
	DeleteBatchSize int
}

// Reaper recovers work abandoned by crashed workers and prunes old terminal
// jobs. Each sweep is independent; a failing sweep is retried on the next
// tick by the adapter.
type Reaper struct {
	jobs            ReaperRepository
	logger          *slog.Logger
	metrics         statsd.Sink
	retentionMaxAge time.Duration
	deleteBatchSize int
}

// NewReaper creates a Reaper.
func NewReaper(opts ReaperOptions) (*Reaper, error) {
	if opts.Jobs == nil {
		return nil, errors.New("reaper repository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retention := opts.RetentionMaxAge
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	batch := opts.DeleteBatchSize
	if batch <= 0 {
		batch = 500
	}

	return &Reaper{
		jobs:            opts.Jobs,
		logger:          logger.With("component", "reaper"),
		metrics:         opts.Metrics,
		retentionMaxAge: retention,
		deleteBatchSize: batch,
	}, nil
}

// RunOnce performs a single reaper sweep.
func (r *Reaper) RunOnce(ctx context.Context) error {
	requeued, err := r.jobs.RequeueExpired(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued expired jobs", "count", requeued)
		if r.metrics != nil {
			r.metrics.Count("reaper.requeued", requeued, nil)
		}
	}

	deleted, err := r.jobs.DeleteOldTerminalJobs(ctx, r.retentionMaxAge, r.deleteBatchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		r.logger.InfoContext(ctx, "deleted old terminal jobs", "count", deleted)
		if r.metrics != nil {
			r.metrics.Count("reaper.deleted", deleted, nil)
		}
	}

	return nil
}
