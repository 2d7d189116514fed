package service

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/domain/timeline"
	"github.com/quietcut/quietcut/internal/notify"
	obsnotify "github.com/quietcut/quietcut/internal/observability/notify"
)

// Hand-written stubs shared by the service tests. Each func field defaults to
// a zero-value result when nil.

type stubJobRepo struct {
	enqueueFn      func(ctx context.Context, req *model.EnqueueJobRequest) (bool, error)
	getByIDFn      func(ctx context.Context, id string) (*model.Job, error)
	reserveNextFn  func(ctx context.Context, leaseSeconds int) (*model.Job, error)
	waitFn         func(ctx context.Context) error
	completeFn     func(ctx context.Context, id string, details model.CompletionDetails) (bool, error)
	failFn         func(ctx context.Context, id, errMsg string) (bool, error)
	retryFn        func(ctx context.Context, id string) (bool, error)
	markRefundedFn func(ctx context.Context, id string) (bool, error)
	statsFn        func(ctx context.Context) (*model.JobStats, error)
}

func (s *stubJobRepo) Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (bool, error) {
	if s.enqueueFn == nil {
		return true, nil
	}
	return s.enqueueFn(ctx, req)
}

func (s *stubJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if s.getByIDFn == nil {
		return &model.Job{ID: id}, nil
	}
	return s.getByIDFn(ctx, id)
}

func (s *stubJobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	if s.reserveNextFn == nil {
		return nil, model.ErrNoJobsAvailable
	}
	return s.reserveNextFn(ctx, leaseSeconds)
}

func (s *stubJobRepo) WaitForNotification(ctx context.Context) error {
	if s.waitFn == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.waitFn(ctx)
}

func (s *stubJobRepo) Complete(ctx context.Context, id string, details model.CompletionDetails) (bool, error) {
	if s.completeFn == nil {
		return true, nil
	}
	return s.completeFn(ctx, id, details)
}

func (s *stubJobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if s.failFn == nil {
		return true, nil
	}
	return s.failFn(ctx, id, errMsg)
}

func (s *stubJobRepo) Retry(ctx context.Context, id string) (bool, error) {
	if s.retryFn == nil {
		return true, nil
	}
	return s.retryFn(ctx, id)
}

func (s *stubJobRepo) MarkRefunded(ctx context.Context, id string) (bool, error) {
	if s.markRefundedFn == nil {
		return true, nil
	}
	return s.markRefundedFn(ctx, id)
}

func (s *stubJobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	if s.statsFn == nil {
		return &model.JobStats{}, nil
	}
	return s.statsFn(ctx)
}

type stubAccountRepo struct {
	account *model.Account
	err     error
}

func (s *stubAccountRepo) GetByID(context.Context, string) (*model.Account, error) {
	return s.account, s.err
}

func (s *stubAccountRepo) Create(context.Context, string, int) (*model.Account, error) {
	return s.account, s.err
}

type stubStore struct {
	mu        sync.Mutex
	objects   map[string]string
	uploads   []string
	signedURL string
	signErr   error
	downErr   error
	upErr     error
}

func newStubStore() *stubStore {
	return &stubStore{objects: map[string]string{}, signedURL: "https://signed.example/u"}
}

func (s *stubStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	if s.downErr != nil {
		return nil, s.downErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(strings.NewReader(s.objects[key])), nil
}

func (s *stubStore) Upload(_ context.Context, key string, r io.Reader, _ string) error {
	if s.upErr != nil {
		return s.upErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = string(data)
	s.uploads = append(s.uploads, key)
	return nil
}

func (s *stubStore) SignedURL(context.Context, string, time.Duration) (string, error) {
	return s.signedURL, s.signErr
}

type stubMailer struct {
	mu        sync.Mutex
	completed []notify.JobCompletedEmail
	failed    []notify.JobFailedEmail
	err       error
}

func (s *stubMailer) SendJobCompleted(_ context.Context, email notify.JobCompletedEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, email)
	return s.err
}

func (s *stubMailer) SendJobFailed(_ context.Context, email notify.JobFailedEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, email)
	return s.err
}

type stubAlerter struct {
	mu       sync.Mutex
	payloads []obsnotify.JobFailurePayload
}

func (s *stubAlerter) NotifyJobFailure(_ context.Context, payload obsnotify.JobFailurePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
}

func (s *stubAlerter) Enabled() bool { return true }

type stubAnalyzer struct {
	durations map[string]float64
	probeErr  error
	silences  []timeline.SilenceInterval
	detectErr error
	// probed records every path handed to ProbeDuration in order.
	mu     sync.Mutex
	probed []string
}

func (s *stubAnalyzer) ProbeDuration(_ context.Context, path string) (float64, error) {
	s.mu.Lock()
	s.probed = append(s.probed, path)
	s.mu.Unlock()
	if s.probeErr != nil {
		return 0, s.probeErr
	}
	if d, ok := s.durations[path]; ok {
		return d, nil
	}
	return 100, nil
}

func (s *stubAnalyzer) DetectSilences(context.Context, string) ([]timeline.SilenceInterval, error) {
	return s.silences, s.detectErr
}

type stubAssembler struct {
	mu         sync.Mutex
	extracted  []timeline.Segment
	concatted  [][]string
	extractErr error
	concatErr  error
}

func (s *stubAssembler) ExtractSegment(_ context.Context, _, dst string, seg timeline.Segment) error {
	if s.extractErr != nil {
		return s.extractErr
	}
	s.mu.Lock()
	s.extracted = append(s.extracted, seg)
	s.mu.Unlock()
	return writeFile(dst, "part")
}

func (s *stubAssembler) Concat(_ context.Context, parts []string, dst string) error {
	if s.concatErr != nil {
		return s.concatErr
	}
	s.mu.Lock()
	s.concatted = append(s.concatted, parts)
	s.mu.Unlock()
	return writeFile(dst, "assembled")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
