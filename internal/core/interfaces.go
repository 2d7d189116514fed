// Package core provides the business logic contracts for the quietcut job system.
package core

import (
	"context"
	"io"
	"time"

	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/domain/timeline"
)

// This file contains the repository and adapter interface definitions (ports).
// Service implementations depend on these interfaces, not on concrete types.

// JobRepository defines the interface for job queue and persistence operations.
type JobRepository interface {
	// Enqueue inserts a queued job. Re-enqueueing an existing job id is a
	// no-op; the bool reports whether a new row was created.
	Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ReserveNext atomically claims the oldest queued job, marking it
	// processing with a lease. Returns model.ErrNoJobsAvailable when the
	// queue is empty.
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	// WaitForNotification blocks until the queue signals new work or ctx ends.
	WaitForNotification(ctx context.Context) error
	// Complete transitions processing->completed, recording the output key
	// and duration. Returns false when the job was not processing.
	Complete(ctx context.Context, id string, details model.CompletionDetails) (bool, error)
	// Fail transitions processing->failed with the error message. Returns
	// false when the job was not processing.
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	// Retry transitions failed->queued, clearing the previous attempt's
	// outputs and refund marker and charging one credit in the same
	// transaction. Returns false when the job was not failed.
	Retry(ctx context.Context, id string) (bool, error)
	// MarkRefunded sets the refund marker and increments the owner's credit
	// balance in one transaction. Returns false when the job was already
	// refunded, so callers refund at most once per failed job.
	MarkRefunded(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// AccountRepository defines the interface for account data operations.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*model.Account, error)
	Create(ctx context.Context, email string, credits int) (*model.Account, error)
}

// ObjectStore abstracts the bucket holding source uploads and finished outputs.
type ObjectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, r io.Reader, contentType string) error
	// SignedURL returns a time-limited download link for the given key.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// MediaAnalyzer probes local media files.
type MediaAnalyzer interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	DetectSilences(ctx context.Context, path string) ([]timeline.SilenceInterval, error)
}

// MediaAssembler cuts and reassembles local media files without re-encoding.
type MediaAssembler interface {
	ExtractSegment(ctx context.Context, src, dst string, seg timeline.Segment) error
	Concat(ctx context.Context, parts []string, dst string) error
}

// RateLimiter gates job starts across all worker processes.
type RateLimiter interface {
	// Allow reports whether another job start fits in the current window.
	Allow(ctx context.Context) (bool, error)
}
