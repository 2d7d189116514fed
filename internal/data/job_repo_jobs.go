package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/quietcut/quietcut/internal/data/pgxutil"
	"github.com/quietcut/quietcut/internal/domain/model"
)

// notifyChannel is the Postgres NOTIFY channel signalled on every enqueue so
// idle workers wake immediately instead of waiting out a poll interval.
const notifyChannel = "quietcut_job_added"

// SQL used by ReserveNext to atomically reserve the oldest queued job.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'queued'
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'processing',
    started_at = $1,
    lease_expires_at = $2,
    updated_at = $3
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.owner_id, j.status, j.input_key, j.output_key, j.original_filename, j.size_bytes, j.duration_seconds, j.last_error, j.refunded_at, j.lease_expires_at, j.created_at, j.started_at, j.completed_at, j.updated_at`

// Enqueue inserts a new queued job. The job id is the idempotency key:
// inserting an id that already exists is a no-op and returns false.
func (r *JobRepo) Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (bool, error) {
	if req == nil {
		return false, errors.New("enqueue job request is required")
	}
	if err := req.Validate(); err != nil {
		return false, err
	}

	inserted := false
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			tag, execErr := tx.Exec(ctx, `
				INSERT INTO jobs (id, owner_id, status, input_key, original_filename, size_bytes, created_at, updated_at)
				VALUES ($1, $2, 'queued', $3, $4, $5, $6, $6)
				ON CONFLICT (id) DO NOTHING
			`, req.ID, req.OwnerID, req.InputKey, req.OriginalFilename, req.SizeBytes, now)
			if execErr != nil {
				if IsForeignKeyViolation(execErr) {
					return ErrUnknownOwner
				}
				return fmt.Errorf("insert job: %w", execErr)
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			inserted = true
			if _, notifyErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, req.ID); notifyErr != nil {
				return fmt.Errorf("send job notification: %w", notifyErr)
			}
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	outputKey, lastError       sql.NullString
	durationSeconds            sql.NullInt64
	refundedAt, leaseExpiresAt sql.NullTime
	startedAt, completedAt     sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.InputKey,
		&d.outputKey,
		&job.OriginalFilename,
		&job.SizeBytes,
		&d.durationSeconds,
		&d.lastError,
		&d.refundedAt,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&d.startedAt,
		&d.completedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.OutputKey = cloneNullableString(d.outputKey)
	job.LastError = cloneNullableString(d.lastError)
	if d.durationSeconds.Valid {
		v := int(d.durationSeconds.Int64)
		job.DurationSeconds = &v
	}
	job.RefundedAt = cloneNullableTime(d.refundedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	data.apply(job)
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ReserveNext reserves the oldest queued job for processing, marking it
// processing with a lease. Expired leases are requeued first so crashed
// workers' jobs re-enter the queue before new reservations happen.
func (r *JobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	if _, err := r.RequeueExpired(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Complete marks a processing job as completed with its output key and
// duration. Returns false when the job was not processing, so duplicate
// deliveries of already-terminal jobs are no-ops.
func (r *JobRepo) Complete(ctx context.Context, id string, details model.CompletionDetails) (bool, error) {
	if details.OutputKey == "" {
		return false, errors.New("output key is required to complete a job")
	}

	currentTime := r.timeProvider.Now().UTC()

	var duration sql.NullInt64
	if details.DurationSeconds != nil {
		duration = sql.NullInt64{Int64: int64(*details.DurationSeconds), Valid: true}
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    output_key = $2,
		    duration_seconds = $3,
		    completed_at = $4,
		    updated_at = $4,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'processing'
	`, id, details.OutputKey, duration, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail marks a processing job as failed with the given error message.
// Returns false when the job was not processing.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'processing'
	`, id, errMsg, currentTime)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkRefunded restores one credit to the job's owner, exactly once per
// failed job. The refund marker and the balance increment commit in the same
// transaction; a second call for the same failure finds the marker set and
// returns false without touching the balance.
func (r *JobRepo) MarkRefunded(ctx context.Context, id string) (bool, error) {
	refunded := false
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			var ownerID string
			err := tx.QueryRowContext(ctx, `
				UPDATE jobs
				SET refunded_at = $2,
				    updated_at = $2
				WHERE id = $1 AND status = 'failed' AND refunded_at IS NULL
				RETURNING owner_id
			`, id, currentTime).Scan(&ownerID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("mark job refunded: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				UPDATE accounts
				SET credits = credits + 1,
				    updated_at = $2
				WHERE id = $1
			`, ownerID, currentTime); err != nil {
				return fmt.Errorf("restore credit: %w", err)
			}

			refunded = true
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return refunded, nil
}

// Retry moves a failed job back to queued for a fresh attempt. The previous
// attempt's outputs, error, and refund marker are cleared, and one credit is
// charged in the same transaction. Returns false when the job was not failed;
// returns ErrInsufficientCredits when the owner cannot afford the attempt.
func (r *JobRepo) Retry(ctx context.Context, id string) (bool, error) {
	retried := false
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			var ownerID string
			err := tx.QueryRowContext(ctx, `
				UPDATE jobs
				SET status = 'queued',
				    output_key = NULL,
				    duration_seconds = NULL,
				    last_error = NULL,
				    refunded_at = NULL,
				    started_at = NULL,
				    completed_at = NULL,
				    lease_expires_at = NULL,
				    updated_at = $2
				WHERE id = $1 AND status = 'failed'
				RETURNING owner_id
			`, id, currentTime).Scan(&ownerID)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("requeue failed job: %w", err)
			}

			res, err := tx.ExecContext(ctx, `
				UPDATE accounts
				SET credits = credits - 1,
				    updated_at = $2
				WHERE id = $1 AND credits >= 1
			`, ownerID, currentTime)
			if err != nil {
				return fmt.Errorf("charge retry credit: %w", err)
			}
			charged, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("charge rows affected: %w", err)
			}
			if charged == 0 {
				return ErrInsufficientCredits
			}

			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, notifyChannel, id); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}

			retried = true
			return nil
		},
	})
	if err != nil {
		return false, err
	}
	return retried, nil
}

// Stats returns counts of jobs in each state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')     AS queued,
    count(*) FILTER (WHERE status = 'processing') AS processing,
    count(*) FILTER (WHERE status = 'completed')  AS completed,
    count(*) FILTER (WHERE status = 'failed')     AS failed
  FROM jobs
  `).Scan(
		&s.Queued,
		&s.Processing,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs
// are available. The dedicated connection is returned to the pool when the
// wait ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{notifyChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
