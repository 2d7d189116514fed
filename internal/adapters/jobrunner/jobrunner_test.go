package jobrunner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietcut/quietcut/internal/domain/model"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	queue    []*model.Job
	reserved []string
	completd []string
	failed   map[string]string

	reserveErr error
}

func newFakeLifecycle(jobs ...*model.Job) *fakeLifecycle {
	return &fakeLifecycle{queue: jobs, failed: map[string]string{}}
}

func (f *fakeLifecycle) ReserveNext(_ context.Context, leaseSeconds int) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	if len(f.queue) == 0 {
		return nil, model.ErrNoJobsAvailable
	}
	if leaseSeconds < 1 {
		return nil, errors.New("lease must be at least one second")
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	f.reserved = append(f.reserved, next.ID)
	return next, nil
}

func (f *fakeLifecycle) Complete(_ context.Context, id string, _ model.CompletionDetails) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completd = append(f.completd, id)
	return true, nil
}

func (f *fakeLifecycle) Fail(_ context.Context, id, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return true, nil
}

func (f *fakeLifecycle) snapshot() (reserved, completed []string, failed map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	failed = make(map[string]string, len(f.failed))
	for k, v := range f.failed {
		failed[k] = v
	}
	return append([]string(nil), f.reserved...), append([]string(nil), f.completd...), failed
}

type fakeProcessor struct {
	fn   func(ctx context.Context, job *model.Job) (model.CompletionDetails, error)
	done chan string
}

func (p *fakeProcessor) Process(ctx context.Context, job *model.Job) (model.CompletionDetails, error) {
	details, err := model.CompletionDetails{OutputKey: "outputs/" + job.ID + "/out.mp4"}, error(nil)
	if p.fn != nil {
		details, err = p.fn(ctx, job)
	}
	if p.done != nil {
		p.done <- job.ID
	}
	return details, err
}

type fakeLimiter struct {
	mu      sync.Mutex
	answers []bool
	calls   int
}

func (l *fakeLimiter) Allow(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.answers) == 0 {
		return true, nil
	}
	next := l.answers[0]
	l.answers = l.answers[1:]
	return next, nil
}

func testJob(id string) *model.Job {
	return &model.Job{ID: id, Status: model.JobStatusProcessing, InputKey: "uploads/" + id}
}

func runUntil(t *testing.T, r *Runner, stop func()) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()
	stop()
	cancel()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerOptions{Processor: &fakeProcessor{}})
	assert.Error(t, err, "missing lifecycle")
	_, err = NewRunner(RunnerOptions{Jobs: newFakeLifecycle()})
	assert.Error(t, err, "missing processor")
}

func TestRunner_ProcessesAndCompletesJobs(t *testing.T) {
	lifecycle := newFakeLifecycle(testJob("j1"), testJob("j2"))
	done := make(chan string, 2)
	runner, err := NewRunner(RunnerOptions{
		Jobs:          lifecycle,
		Processor:     &fakeProcessor{done: done},
		ThrottleDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	runErr := runUntil(t, runner, func() {
		<-done
		<-done
		// Give the worker a beat to record both terminal transitions.
		time.Sleep(20 * time.Millisecond)
	})
	require.NoError(t, runErr)

	reserved, completed, failed := lifecycle.snapshot()
	assert.ElementsMatch(t, []string{"j1", "j2"}, reserved)
	assert.ElementsMatch(t, []string{"j1", "j2"}, completed)
	assert.Empty(t, failed)
}

func TestRunner_FailsJobOnProcessorError(t *testing.T) {
	lifecycle := newFakeLifecycle(testJob("j1"))
	done := make(chan string, 1)
	runner, err := NewRunner(RunnerOptions{
		Jobs: lifecycle,
		Processor: &fakeProcessor{
			done: done,
			fn: func(context.Context, *model.Job) (model.CompletionDetails, error) {
				return model.CompletionDetails{}, errors.New("ffmpeg exited with status 1")
			},
		},
		ThrottleDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	runErr := runUntil(t, runner, func() {
		<-done
		time.Sleep(20 * time.Millisecond)
	})
	require.NoError(t, runErr)

	_, completed, failed := lifecycle.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, "ffmpeg exited with status 1", failed["j1"])
}

func TestRunner_AbandonsJobOnShutdown(t *testing.T) {
	lifecycle := newFakeLifecycle(testJob("j1"))
	started := make(chan struct{})
	finished := make(chan struct{})
	runner, err := NewRunner(RunnerOptions{
		Jobs: lifecycle,
		Processor: &fakeProcessor{
			fn: func(ctx context.Context, _ *model.Job) (model.CompletionDetails, error) {
				close(started)
				<-ctx.Done()
				close(finished)
				return model.CompletionDetails{}, ctx.Err()
			},
		},
		ShutdownGrace: 10 * time.Millisecond,
		ThrottleDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	runErr := runUntil(t, runner, func() {
		<-started
	})
	require.NoError(t, runErr)
	<-finished

	_, completed, failed := lifecycle.snapshot()
	assert.Empty(t, completed, "an interrupted attempt records no terminal state")
	assert.Empty(t, failed, "shutdown is not a job failure")
}

func TestRunner_InFlightJobFinishesWithinGrace(t *testing.T) {
	lifecycle := newFakeLifecycle(testJob("j1"))
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan string, 1)
	runner, err := NewRunner(RunnerOptions{
		Jobs: lifecycle,
		Processor: &fakeProcessor{
			done: done,
			fn: func(ctx context.Context, _ *model.Job) (model.CompletionDetails, error) {
				close(started)
				// Keep working past the runner cancel; the grace period must
				// leave this context alive.
				<-release
				if ctx.Err() != nil {
					return model.CompletionDetails{}, ctx.Err()
				}
				return model.CompletionDetails{OutputKey: "outputs/j1/out.mp4"}, nil
			},
		},
		ShutdownGrace: 2 * time.Second,
		ThrottleDelay: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(ctx) }()

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-done

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}

	_, completed, _ := lifecycle.snapshot()
	assert.Equal(t, []string{"j1"}, completed, "job finishing inside the grace period still completes")
}

func TestRunner_RateLimiterDefersReservation(t *testing.T) {
	lifecycle := newFakeLifecycle(testJob("j1"))
	limiter := &fakeLimiter{answers: []bool{false, false, true}}
	done := make(chan string, 1)
	runner, err := NewRunner(RunnerOptions{
		Jobs:          lifecycle,
		Processor:     &fakeProcessor{done: done},
		Limiter:       limiter,
		ThrottleDelay: time.Millisecond,
	})
	require.NoError(t, err)

	runErr := runUntil(t, runner, func() {
		<-done
		time.Sleep(20 * time.Millisecond)
	})
	require.NoError(t, runErr)

	limiter.mu.Lock()
	calls := limiter.calls
	limiter.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 3, "denied slots retry until the limiter admits the start")

	_, completed, _ := lifecycle.snapshot()
	assert.Equal(t, []string{"j1"}, completed)
}

func TestRunner_StopsOnReserveError(t *testing.T) {
	lifecycle := newFakeLifecycle()
	lifecycle.reserveErr = errors.New("connection refused")
	runner, err := NewRunner(RunnerOptions{
		Jobs:      lifecycle,
		Processor: &fakeProcessor{},
	})
	require.NoError(t, err)

	runErr := runner.Run(context.Background())
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "reserve next")
}
