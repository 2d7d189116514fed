package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/testutil"
)

func newTestJobRepo(db *sql.DB, tp TimeProvider) *JobRepo {
	return NewJobRepo(db, RepoConfig{TimeProvider: tp})
}

func seedAccount(t *testing.T, db *sql.DB, credits int) *model.Account {
	t.Helper()
	account, err := NewAccountRepo(db, nil).Create(
		context.Background(),
		uuid.NewString()+"@example.com",
		credits,
	)
	require.NoError(t, err)
	return account
}

func enqueueRequest(ownerID string) *model.EnqueueJobRequest {
	return &model.EnqueueJobRequest{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		InputKey:         "uploads/" + uuid.NewString() + "/raw.mp4",
		OriginalFilename: "raw.mp4",
		SizeBytes:        1024,
	}
}

func TestJobRepo_EnqueueIsIdempotent(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		owner := seedAccount(t, db, 5)

		req := enqueueRequest(owner.ID)

		created, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		assert.True(t, created)

		// Same id again is a no-op, even with different payload fields.
		dup := *req
		dup.OriginalFilename = "other.mp4"
		created, err = repo.Enqueue(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, created)

		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Equal(t, "raw.mp4", job.OriginalFilename)
	})
}

func TestJobRepo_EnqueueUnknownOwner(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestJobRepo(db, nil)

		_, err := repo.Enqueue(context.Background(), enqueueRequest(uuid.NewString()))
		assert.ErrorIs(t, err, ErrUnknownOwner)
	})
}

func TestJobRepo_ReserveNextIsFIFO(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		owner := seedAccount(t, db, 5)

		first := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, first)
		require.NoError(t, err)

		tp.AddTime(time.Second)
		second := enqueueRequest(owner.ID)
		_, err = repo.Enqueue(ctx, second)
		require.NoError(t, err)

		job, err := repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		assert.Equal(t, first.ID, job.ID)
		assert.Equal(t, model.JobStatusProcessing, job.Status)
		require.NotNil(t, job.LeaseExpiresAt)
		require.NotNil(t, job.StartedAt)
		assert.Equal(t, 600*time.Second, job.LeaseExpiresAt.Sub(*job.StartedAt))

		job, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		assert.Equal(t, second.ID, job.ID)

		_, err = repo.ReserveNext(ctx, 600)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_CompleteRequiresProcessing(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		owner := seedAccount(t, db, 5)

		req := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)

		duration := 42
		details := model.CompletionDetails{
			OutputKey:       "outputs/" + req.ID + "/out.mp4",
			DurationSeconds: &duration,
		}

		// Still queued: a completion delivery for a job nobody reserved is a no-op.
		done, err := repo.Complete(ctx, req.ID, details)
		require.NoError(t, err)
		assert.False(t, done)

		_, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)

		done, err = repo.Complete(ctx, req.ID, details)
		require.NoError(t, err)
		assert.True(t, done)

		// Duplicate completion after the terminal transition is a no-op.
		done, err = repo.Complete(ctx, req.ID, details)
		require.NoError(t, err)
		assert.False(t, done)

		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		require.NotNil(t, job.OutputKey)
		assert.Equal(t, details.OutputKey, *job.OutputKey)
		require.NotNil(t, job.DurationSeconds)
		assert.Equal(t, 42, *job.DurationSeconds)
		assert.Nil(t, job.LeaseExpiresAt)
		require.NotNil(t, job.CompletedAt)
	})
}

func TestJobRepo_MarkRefundedExactlyOnce(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		accounts := NewAccountRepo(db, nil)
		owner := seedAccount(t, db, 3)

		req := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)

		failed, err := repo.Fail(ctx, req.ID, "ffmpeg exited with status 1")
		require.NoError(t, err)
		assert.True(t, failed)

		refunded, err := repo.MarkRefunded(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, refunded)

		// Second delivery of the same failure must not refund again.
		refunded, err = repo.MarkRefunded(ctx, req.ID)
		require.NoError(t, err)
		assert.False(t, refunded)

		account, err := accounts.GetByID(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, account.Credits)

		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
		require.NotNil(t, job.LastError)
		assert.Equal(t, "ffmpeg exited with status 1", *job.LastError)
		assert.NotNil(t, job.RefundedAt)
	})
}

func TestJobRepo_RetryChargesOneCredit(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		accounts := NewAccountRepo(db, nil)
		owner := seedAccount(t, db, 1)

		req := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		_, err = repo.Fail(ctx, req.ID, "boom")
		require.NoError(t, err)
		_, err = repo.MarkRefunded(ctx, req.ID)
		require.NoError(t, err)

		retried, err := repo.Retry(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, retried)

		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Nil(t, job.LastError)
		assert.Nil(t, job.RefundedAt)
		assert.Nil(t, job.StartedAt)
		assert.Nil(t, job.CompletedAt)

		account, err := accounts.GetByID(ctx, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, account.Credits) // 1 - 1 retry + 1 refund

		// Not failed anymore, so a second retry is a no-op.
		retried, err = repo.Retry(ctx, req.ID)
		require.NoError(t, err)
		assert.False(t, retried)
	})
}

func TestJobRepo_RetryWithoutCredits(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		owner := seedAccount(t, db, 0)

		req := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		_, err = repo.Fail(ctx, req.ID, "boom")
		require.NoError(t, err)

		_, err = repo.Retry(ctx, req.ID)
		assert.ErrorIs(t, err, ErrInsufficientCredits)

		// The transaction rolled back; the job stays failed.
		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, job.Status)
	})
}

func TestJobRepo_RequeueExpiredLeases(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		owner := seedAccount(t, db, 5)

		req := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, req)
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, 60)
		require.NoError(t, err)

		// Lease still live: nothing to requeue.
		requeued, err := repo.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, requeued)

		tp.AddTime(2 * time.Minute)

		requeued, err = repo.RequeueExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), requeued)

		job, err := repo.GetByID(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Nil(t, job.StartedAt)
		assert.Nil(t, job.LeaseExpiresAt)
	})
}

func TestJobRepo_DeleteOldTerminalJobs(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := newTestJobRepo(db, tp)
		owner := seedAccount(t, db, 5)

		oldJob := enqueueRequest(owner.ID)
		_, err := repo.Enqueue(ctx, oldJob)
		require.NoError(t, err)
		_, err = repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		_, err = repo.Complete(ctx, oldJob.ID, model.CompletionDetails{OutputKey: "outputs/old/out.mp4"})
		require.NoError(t, err)

		tp.AddTime(48 * time.Hour)

		freshJob := enqueueRequest(owner.ID)
		_, err = repo.Enqueue(ctx, freshJob)
		require.NoError(t, err)

		deleted, err := repo.DeleteOldTerminalJobs(ctx, 24*time.Hour, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		_, err = repo.GetByID(ctx, oldJob.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)

		// Queued jobs are never reaped regardless of age.
		_, err = repo.GetByID(ctx, freshJob.ID)
		assert.NoError(t, err)
	})
}

func TestJobRepo_Stats(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := newTestJobRepo(db, nil)
		owner := seedAccount(t, db, 5)

		for i := 0; i < 2; i++ {
			_, err := repo.Enqueue(ctx, enqueueRequest(owner.ID))
			require.NoError(t, err)
		}
		reserved, err := repo.ReserveNext(ctx, 600)
		require.NoError(t, err)
		_, err = repo.Fail(ctx, reserved.ID, "boom")
		require.NoError(t, err)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Queued)
		assert.Equal(t, 0, stats.Processing)
		assert.Equal(t, 0, stats.Completed)
		assert.Equal(t, 1, stats.Failed)
	})
}

func TestAccountRepo_CreateAndGet(t *testing.T) {
	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewAccountRepo(db, nil)

		account, err := repo.Create(ctx, "owner@example.com", 5)
		require.NoError(t, err)
		assert.Equal(t, 5, account.Credits)

		_, err = repo.Create(ctx, "owner@example.com", 1)
		assert.ErrorIs(t, err, ErrAccountExists)

		fetched, err := repo.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "owner@example.com", fetched.Email)

		_, err = repo.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}
