// Package service implements the business logic for the quietcut job system.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quietcut/quietcut/internal/core"
	"github.com/quietcut/quietcut/internal/data"
	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/notify"
	"github.com/quietcut/quietcut/internal/observability/metrics"
	obsnotify "github.com/quietcut/quietcut/internal/observability/notify"
	"github.com/quietcut/quietcut/internal/observability/statsd"
)

// FailureAlerter fans out job failure alerts to operator sinks.
type FailureAlerter interface {
	NotifyJobFailure(ctx context.Context, payload obsnotify.JobFailurePayload)
	Enabled() bool
}

// JobServiceOptions groups the dependencies for NewJobService.
type JobServiceOptions struct {
	Jobs     core.JobRepository
	Accounts core.AccountRepository
	Store    core.ObjectStore
	// Mailer sends user-facing outcome emails; nil disables them.
	Mailer notify.Mailer
	// FailureAlerts fans failures out to operator sinks; nil disables them.
	FailureAlerts FailureAlerter
	Metrics       statsd.Sink
	Logger        *slog.Logger
	// SignedURLTTL bounds how long completion download links stay valid.
	SignedURLTTL time.Duration
	// NotifyTimeout bounds each best-effort notification attempt.
	NotifyTimeout time.Duration
}

// JobService owns job lifecycle transitions, the exactly-once refund on
// failure, and the fire-and-forget outcome notifications.
type JobService struct {
	jobs          core.JobRepository
	accounts      core.AccountRepository
	store         core.ObjectStore
	mailer        notify.Mailer
	failureAlerts FailureAlerter
	metrics       statsd.Sink
	logger        *slog.Logger
	signedURLTTL  time.Duration
	notifyTimeout time.Duration
}

// NewJobService creates a JobService. The job repository is required; all
// other dependencies degrade to no-ops when absent.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job repository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	signedURLTTL := opts.SignedURLTTL
	if signedURLTTL <= 0 {
		signedURLTTL = 24 * time.Hour
	}

	notifyTimeout := opts.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 30 * time.Second
	}

	return &JobService{
		jobs:          opts.Jobs,
		accounts:      opts.Accounts,
		store:         opts.Store,
		mailer:        opts.Mailer,
		failureAlerts: opts.FailureAlerts,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "job_service"),
		signedURLTTL:  signedURLTTL,
		notifyTimeout: notifyTimeout,
	}, nil
}

// Enqueue validates and inserts a new queued job. Duplicate job ids are
// accepted and ignored; the bool reports whether a new job was created.
func (s *JobService) Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (bool, error) {
	created, err := s.jobs.Enqueue(ctx, req)
	if err != nil {
		return false, err
	}
	if !created {
		s.logger.InfoContext(ctx, "duplicate enqueue ignored", "job_id", req.ID)
	}
	return created, nil
}

// GetByID returns the job with the given id.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return s.jobs.GetByID(ctx, id)
}

// GetStatus returns the externally visible status of a job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*model.JobStatusResponse, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.JobStatusResponse{
		Status:      job.Status,
		OutputKey:   job.OutputKey,
		CompletedAt: job.CompletedAt,
		LastError:   job.LastError,
	}, nil
}

// ReserveNext claims the next queued job with the given lease.
func (s *JobService) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	job, err := s.jobs.ReserveNext(ctx, leaseSeconds)
	if err != nil {
		if !errors.Is(err, model.ErrNoJobsAvailable) {
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: "reserve",
				Result:     metrics.ResultError,
				Err:        err,
			})
		}
		return nil, err
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "reserve",
		Result:     metrics.ResultSuccess,
	})
	return job, nil
}

// WaitForNotification blocks until the queue signals new work or ctx ends.
func (s *JobService) WaitForNotification(ctx context.Context) error {
	return s.jobs.WaitForNotification(ctx)
}

// Complete transitions a processing job to completed and sends the owner a
// download link. A job that already reached a terminal state is left alone.
func (s *JobService) Complete(ctx context.Context, id string, details model.CompletionDetails) (bool, error) {
	transitioned, err := s.jobs.Complete(ctx, id, details)
	if err != nil {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "complete",
			Result:     metrics.ResultError,
			Err:        err,
		})
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if !transitioned {
		s.logger.InfoContext(ctx, "complete skipped, job not processing", "job_id", id)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "complete",
			Result:     metrics.ResultNoop,
		})
		return false, nil
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "complete",
		Result:     metrics.ResultSuccess,
	})

	s.notifyCompleted(ctx, id, details)
	return true, nil
}

// Fail transitions a processing job to failed, refunds the owner's credit
// exactly once, and sends the failure notifications. Duplicate failures of
// the same job are no-ops.
func (s *JobService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	transitioned, err := s.jobs.Fail(ctx, id, errMsg)
	if err != nil {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "fail",
			Result:     metrics.ResultError,
			Err:        err,
		})
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if !transitioned {
		s.logger.InfoContext(ctx, "fail skipped, job not processing", "job_id", id)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "fail",
			Result:     metrics.ResultNoop,
		})
		return false, nil
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "fail",
		Result:     metrics.ResultSuccess,
	})

	// Refund before notifying so the failure email can promise the credit
	// back. The refund marker makes this safe under duplicate deliveries.
	refunded, refundErr := s.jobs.MarkRefunded(ctx, id)
	if refundErr != nil {
		s.logger.ErrorContext(ctx, "credit refund failed", "job_id", id, "error", refundErr)
	} else if !refunded {
		s.logger.InfoContext(ctx, "refund skipped, already refunded", "job_id", id)
	}

	s.notifyFailed(ctx, id, errMsg)
	return true, nil
}

// Retry moves a failed job back into the queue, charging one credit.
func (s *JobService) Retry(ctx context.Context, id string) (bool, error) {
	transitioned, err := s.jobs.Retry(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrInsufficientCredits) {
			return false, err
		}
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "retry",
			Result:     metrics.ResultError,
			Err:        err,
		})
		return false, fmt.Errorf("retry job %s: %w", id, err)
	}
	if !transitioned {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: "retry",
			Result:     metrics.ResultNoop,
		})
		return false, nil
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: "retry",
		Result:     metrics.ResultSuccess,
	})
	return true, nil
}

// Stats returns current queue counts and emits them as gauges.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	metrics.EmitQueueDepth(s.metrics, stats.Queued, stats.Processing)
	return stats, nil
}

// notifyCompleted sends the completion email. Best-effort: failures are
// logged and never reported to the caller.
func (s *JobService) notifyCompleted(ctx context.Context, id string, details model.CompletionDetails) {
	if s.mailer == nil || s.store == nil || s.accounts == nil {
		return
	}

	// The job outcome is already committed; notification delivery gets its
	// own deadline independent of the caller's remaining time.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "completion notification skipped, job lookup failed", "job_id", id, "error", err)
		return
	}
	account, err := s.accounts.GetByID(ctx, job.OwnerID)
	if err != nil {
		s.logger.WarnContext(ctx, "completion notification skipped, account lookup failed", "job_id", id, "error", err)
		return
	}

	url, err := s.store.SignedURL(ctx, details.OutputKey, s.signedURLTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "completion notification skipped, signing failed", "job_id", id, "error", err)
		return
	}

	email := notify.JobCompletedEmail{
		To:              account.Email,
		JobID:           job.ID,
		Filename:        job.OriginalFilename,
		DownloadURL:     url,
		ExpiresAt:       time.Now().Add(s.signedURLTTL),
		DurationSeconds: details.DurationSeconds,
	}
	if err := s.mailer.SendJobCompleted(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "completion email delivery failed", "job_id", id, "error", err)
	}
}

// notifyFailed sends the user failure email and fans out operator alerts.
func (s *JobService) notifyFailed(ctx context.Context, id, errMsg string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	var job *model.Job
	if s.mailer != nil || (s.failureAlerts != nil && s.failureAlerts.Enabled()) {
		var err error
		job, err = s.jobs.GetByID(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "failure notification skipped, job lookup failed", "job_id", id, "error", err)
			return
		}
	}
	if job == nil {
		return
	}

	if s.mailer != nil && s.accounts != nil {
		if account, err := s.accounts.GetByID(ctx, job.OwnerID); err != nil {
			s.logger.WarnContext(ctx, "failure email skipped, account lookup failed", "job_id", id, "error", err)
		} else if err := s.mailer.SendJobFailed(ctx, notify.JobFailedEmail{
			To:       account.Email,
			JobID:    job.ID,
			Filename: job.OriginalFilename,
			Reason:   errMsg,
		}); err != nil {
			s.logger.WarnContext(ctx, "failure email delivery failed", "job_id", id, "error", err)
		}
	}

	if s.failureAlerts != nil && s.failureAlerts.Enabled() {
		s.failureAlerts.NotifyJobFailure(ctx, obsnotify.JobFailurePayload{
			JobID:      job.ID,
			OwnerID:    job.OwnerID,
			Filename:   job.OriginalFilename,
			Error:      errMsg,
			OccurredAt: time.Now(),
		})
	}
}
