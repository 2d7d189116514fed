package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/quietcut/quietcut/internal/core"
	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/domain/timeline"
	apperrors "github.com/quietcut/quietcut/internal/errors"
)

// ErrNothingToKeep is the terminal failure for clips where the silence cut
// leaves no content. Deterministic for a given input, so it is never retried
// automatically.
var ErrNothingToKeep = apperrors.Validation("silence covers the entire clip")

// ExecutorOptions groups the dependencies for NewExecutor.
type ExecutorOptions struct {
	Store     core.ObjectStore
	Analyzer  core.MediaAnalyzer
	Assembler core.MediaAssembler
	// ScratchDir is the parent for per-job working directories. Defaults to
	// the system temp dir.
	ScratchDir string
	Logger     *slog.Logger
}

// Executor runs the silence-removal pipeline for one reserved job: download,
// analyse, plan, cut, reassemble, upload. It holds no job state; all
// transitions belong to the JobService.
type Executor struct {
	store      core.ObjectStore
	analyzer   core.MediaAnalyzer
	assembler  core.MediaAssembler
	scratchDir string
	logger     *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Store == nil {
		return nil, errors.New("object store is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("media analyzer is required")
	}
	if opts.Assembler == nil {
		return nil, errors.New("media assembler is required")
	}

	scratch := opts.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		store:      opts.Store,
		analyzer:   opts.Analyzer,
		assembler:  opts.Assembler,
		scratchDir: scratch,
		logger:     logger.With("component", "executor"),
	}, nil
}

// Process runs the pipeline for a reserved job and returns the completion
// details to record. Every intermediate lives in a job-scoped scratch
// directory that is removed on all exit paths.
func (e *Executor) Process(ctx context.Context, job *model.Job) (model.CompletionDetails, error) {
	var details model.CompletionDetails

	if err := job.ValidateForProcessing(); err != nil {
		return details, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}

	scratch, err := os.MkdirTemp(e.scratchDir, "quietcut-"+job.ID+"-")
	if err != nil {
		return details, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			e.logger.WarnContext(ctx, "scratch cleanup failed", "job_id", job.ID, "dir", scratch, "error", rmErr)
		}
	}()

	source := filepath.Join(scratch, "source"+extensionOf(job.OriginalFilename))
	if err := e.download(ctx, job.InputKey, source); err != nil {
		return details, apperrors.Wrap(err, apperrors.ErrCodeInternal, "download source")
	}

	duration, err := e.analyzer.ProbeDuration(ctx, source)
	if err != nil {
		return details, apperrors.Wrap(err, apperrors.ErrCodeInternal, "probe source")
	}

	silences, err := e.analyzer.DetectSilences(ctx, source)
	if err != nil {
		return details, apperrors.Wrap(err, apperrors.ErrCodeInternal, "detect silences")
	}

	plan := timeline.Plan(duration, silences)
	if len(plan) == 0 {
		return details, ErrNothingToKeep
	}

	e.logger.InfoContext(ctx, "segment plan ready",
		"job_id", job.ID,
		"duration", duration,
		"silences", len(silences),
		"segments", len(plan),
		"kept", timeline.TotalDuration(plan),
	)

	output := source
	if !coversWholeClip(plan, duration) {
		output = filepath.Join(scratch, "output"+extensionOf(job.OriginalFilename))
		if err := e.assemble(ctx, source, output, scratch, plan); err != nil {
			return details, err
		}
	}

	// Output probe is best-effort; an unreadable duration is recorded as
	// unknown rather than failing a finished job.
	if outDuration, probeErr := e.analyzer.ProbeDuration(ctx, output); probeErr != nil {
		e.logger.WarnContext(ctx, "output probe failed", "job_id", job.ID, "error", probeErr)
	} else {
		seconds := int(math.Round(outDuration))
		details.DurationSeconds = &seconds
	}

	details.OutputKey = OutputKey(job.ID, job.OriginalFilename)
	if err := e.upload(ctx, output, details.OutputKey, job.OriginalFilename); err != nil {
		return model.CompletionDetails{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "upload output")
	}

	return details, nil
}

func (e *Executor) assemble(ctx context.Context, source, output, scratch string, plan []timeline.Segment) error {
	parts := make([]string, 0, len(plan))
	for i, seg := range plan {
		part := filepath.Join(scratch, fmt.Sprintf("part-%04d%s", i, filepath.Ext(output)))
		if err := e.assembler.ExtractSegment(ctx, source, part, seg); err != nil {
			return fmt.Errorf("extract segment %d: %w", i, err)
		}
		parts = append(parts, part)
	}

	if len(parts) == 1 {
		return os.Rename(parts[0], output)
	}
	if err := e.assembler.Concat(ctx, parts, output); err != nil {
		return fmt.Errorf("concat segments: %w", err)
	}
	return nil
}

func (e *Executor) download(ctx context.Context, key, dst string) error {
	r, err := e.store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (e *Executor) upload(ctx context.Context, src, key, originalFilename string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return e.store.Upload(ctx, key, f, contentTypeFor(originalFilename))
}

// coversWholeClip reports whether the plan keeps the entire clip, in which
// case the source bytes pass through untouched.
func coversWholeClip(plan []timeline.Segment, duration float64) bool {
	return len(plan) == 1 && plan[0].Start == 0 && plan[0].End == duration
}

// OutputKey builds the object key for a job's processed output. The job id
// namespaces the key and the random element keeps retried attempts from
// colliding with stale uploads.
func OutputKey(jobID, originalFilename string) string {
	return fmt.Sprintf("outputs/%s/%s-%s", jobID, uuid.NewString(), sanitizeFilename(originalFilename))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "output"
	}
	return b.String()
}

func extensionOf(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return ".mp4"
	}
	return ext
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}
