package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quietcut/quietcut/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations. Two-arg
// pg_try_advisory_xact_lock(major, minor) keeps reaper instances from
// running the same sweep concurrently.
const (
	advisoryLockReaperMajor   = 2100
	advisoryLockReaperRequeue = 1 // minor key for RequeueExpired
	advisoryLockReaperDelete  = 2 // minor key for DeleteOldTerminalJobs
)

// RequeueExpired moves processing jobs whose lease has expired back to
// queued. This is how work abandoned by a crashed or cancelled worker
// re-enters the queue. Returns the number of jobs requeued.
func (r *JobRepo) RequeueExpired(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = 'queued',
				    started_at = NULL,
				    lease_expires_at = NULL,
				    updated_at = $1
				WHERE status = 'processing'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
			`, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldTerminalJobs deletes completed and failed jobs older than maxAge.
// Processes up to batchSize jobs per call to prevent long locks and I/O
// spikes. Returns the number of jobs deleted.
func (r *JobRepo) DeleteOldTerminalJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-maxAge).UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN ('completed', 'failed')
					  AND COALESCE(completed_at, updated_at) < $1
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $2
				)
			`, cutoffTime, batchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
