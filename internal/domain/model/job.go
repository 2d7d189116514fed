// Package model defines the core data types used throughout the quietcut job system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a silence-removal job.
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting to be picked up by a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a job is currently being processed.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job finished and its output was uploaded.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job failed terminally.
	JobStatusFailed JobStatus = "failed"
)

// Valid reports whether the status is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition occurs from this state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrNoJobsAvailable is returned when no queued jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Job is a silence-removal job. The jobs table row doubles as the durable
// queue message: reservation uses FOR UPDATE SKIP LOCKED plus a lease, so
// delivery is at-least-once across worker processes.
type Job struct {
	ID               string     `json:"id"                         db:"id"`
	OwnerID          string     `json:"owner_id"                   db:"owner_id"`
	Status           JobStatus  `json:"status"                     db:"status"`
	InputKey         string     `json:"input_key"                  db:"input_key"`
	OutputKey        *string    `json:"output_key,omitempty"       db:"output_key"`
	OriginalFilename string     `json:"original_filename"          db:"original_filename"`
	SizeBytes        int64      `json:"size_bytes"                 db:"size_bytes"`
	DurationSeconds  *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	LastError        *string    `json:"last_error,omitempty"       db:"last_error"`
	RefundedAt       *time.Time `json:"refunded_at,omitempty"      db:"refunded_at"`
	LeaseExpiresAt   *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt        time.Time  `json:"created_at"                 db:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"     db:"completed_at"`
	UpdatedAt        time.Time  `json:"updated_at"                 db:"updated_at"`
}

// ValidateForProcessing checks that a reserved job carries everything the
// executor needs. Jobs failing this check are failed at the queue boundary
// and never reach the media pipeline.
func (j *Job) ValidateForProcessing() error {
	if j == nil {
		return errors.New("job is nil")
	}
	if _, err := uuid.Parse(j.ID); err != nil {
		return fmt.Errorf("job id must be a valid UUID: %w", err)
	}
	if strings.TrimSpace(j.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if strings.TrimSpace(j.InputKey) == "" {
		return errors.New("input key is required")
	}
	if strings.TrimSpace(j.OriginalFilename) == "" {
		return errors.New("original filename is required")
	}
	return nil
}

// EnqueueJobRequest is a request to enqueue a new job. The caller supplies
// the job id, which acts as the de-duplication key: enqueueing the same id
// twice is a no-op.
type EnqueueJobRequest struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	InputKey         string `json:"input_key"`
	OriginalFilename string `json:"original_filename"`
	SizeBytes        int64  `json:"size_bytes,omitempty"`
}

// Validate validates the EnqueueJobRequest fields.
func (r *EnqueueJobRequest) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("job id must be a valid UUID: %w", err)
	}
	if _, err := uuid.Parse(r.OwnerID); err != nil {
		return fmt.Errorf("owner id must be a valid UUID: %w", err)
	}
	if strings.TrimSpace(r.InputKey) == "" {
		return errors.New("input key is required")
	}
	if strings.TrimSpace(r.OriginalFilename) == "" {
		return errors.New("original filename is required")
	}
	if r.SizeBytes < 0 {
		return errors.New("size bytes must be non-negative")
	}
	return nil
}

// CompletionDetails carries the outputs recorded on the completed transition.
type CompletionDetails struct {
	OutputKey string
	// DurationSeconds is nil when the output probe failed; the probe is
	// best-effort and never fails a completed job.
	DurationSeconds *int
}

// JobStatusResponse is the status view returned to polling clients.
type JobStatusResponse struct {
	Status      JobStatus  `json:"status"`
	OutputKey   *string    `json:"output_key,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// JobStats holds counts of jobs per state.
type JobStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Account is the owning account referenced by jobs, used for credit refunds
// and notification addressing.
type Account struct {
	ID        string    `json:"id"         db:"id"`
	Email     string    `json:"email"      db:"email"`
	Credits   int       `json:"credits"    db:"credits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
