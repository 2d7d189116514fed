// Package notify defines the user-facing job notification contract. Delivery
// is fire-and-forget: outcomes are logged but never affect job state.
package notify

import (
	"context"
	"time"
)

// JobCompletedEmail is the notification sent when a job finishes successfully.
type JobCompletedEmail struct {
	To       string
	JobID    string
	Filename string
	// DownloadURL is a time-limited link to the processed output.
	DownloadURL     string
	ExpiresAt       time.Time
	DurationSeconds *int
}

// JobFailedEmail is the notification sent when a job fails terminally. It is
// sent after the credit refund so the copy can promise the credit back.
type JobFailedEmail struct {
	To       string
	JobID    string
	Filename string
	Reason   string
}

// Mailer delivers job outcome notifications to account owners.
type Mailer interface {
	SendJobCompleted(ctx context.Context, email JobCompletedEmail) error
	SendJobFailed(ctx context.Context, email JobFailedEmail) error
}
