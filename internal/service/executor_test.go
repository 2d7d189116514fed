package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/quietcut/quietcut/internal/core"
	"github.com/quietcut/quietcut/internal/domain/model"
	"github.com/quietcut/quietcut/internal/domain/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executorJob() *model.Job {
	return &model.Job{
		ID:               uuid.NewString(),
		OwnerID:          uuid.NewString(),
		Status:           model.JobStatusProcessing,
		InputKey:         "uploads/owner/raw.mp4",
		OriginalFilename: "raw.mp4",
	}
}

func newTestExecutor(t *testing.T, store *stubStore, analyzer core.MediaAnalyzer, assembler *stubAssembler) (*Executor, string) {
	t.Helper()
	scratch := t.TempDir()
	exec, err := NewExecutor(ExecutorOptions{
		Store:      store,
		Analyzer:   analyzer,
		Assembler:  assembler,
		ScratchDir: scratch,
	})
	require.NoError(t, err)
	return exec, scratch
}

func TestNewExecutor_Validation(t *testing.T) {
	_, err := NewExecutor(ExecutorOptions{Analyzer: &stubAnalyzer{}, Assembler: &stubAssembler{}})
	assert.Error(t, err, "missing store")
	_, err = NewExecutor(ExecutorOptions{Store: newStubStore(), Assembler: &stubAssembler{}})
	assert.Error(t, err, "missing analyzer")
	_, err = NewExecutor(ExecutorOptions{Store: newStubStore(), Analyzer: &stubAnalyzer{}})
	assert.Error(t, err, "missing assembler")
}

func TestProcess_NoSilencesUploadsSourceVerbatim(t *testing.T) {
	job := executorJob()
	store := newStubStore()
	store.objects[job.InputKey] = "source-bytes"
	analyzer := &stubAnalyzer{}
	assembler := &stubAssembler{}
	exec, _ := newTestExecutor(t, store, analyzer, assembler)

	details, err := exec.Process(context.Background(), job)
	require.NoError(t, err)

	assert.Empty(t, assembler.extracted, "no cutting when nothing is silent")
	assert.Empty(t, assembler.concatted)
	require.Len(t, store.uploads, 1)
	assert.Equal(t, details.OutputKey, store.uploads[0])
	assert.Equal(t, "source-bytes", store.objects[details.OutputKey], "bytes pass through untouched")
	assert.True(t, strings.HasPrefix(details.OutputKey, "outputs/"+job.ID+"/"))
	assert.True(t, strings.HasSuffix(details.OutputKey, "-raw.mp4"))
}

func TestProcess_CutsAndConcatenatesSegments(t *testing.T) {
	job := executorJob()
	store := newStubStore()
	store.objects[job.InputKey] = "source-bytes"
	analyzer := &stubAnalyzer{
		silences: []timeline.SilenceInterval{{Start: 10, End: 15}, {Start: 40, End: 42}},
	}
	assembler := &stubAssembler{}
	exec, _ := newTestExecutor(t, store, analyzer, assembler)

	details, err := exec.Process(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, assembler.extracted, 3)
	assert.Equal(t, timeline.Segment{Start: 0, End: 10}, assembler.extracted[0])
	assert.Equal(t, timeline.Segment{Start: 15, End: 40}, assembler.extracted[1])
	assert.Equal(t, timeline.Segment{Start: 42, End: 100}, assembler.extracted[2])
	require.Len(t, assembler.concatted, 1)
	assert.Len(t, assembler.concatted[0], 3)
	assert.Equal(t, "assembled", store.objects[details.OutputKey])
}

func TestProcess_SingleKeptSegmentSkipsConcat(t *testing.T) {
	job := executorJob()
	store := newStubStore()
	store.objects[job.InputKey] = "source-bytes"
	analyzer := &stubAnalyzer{
		silences: []timeline.SilenceInterval{{Start: 0, End: 30}},
	}
	assembler := &stubAssembler{}
	exec, _ := newTestExecutor(t, store, analyzer, assembler)

	details, err := exec.Process(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, assembler.extracted, 1)
	assert.Empty(t, assembler.concatted, "one part needs no concat")
	assert.Equal(t, "part", store.objects[details.OutputKey])
}

func TestProcess_FullSilenceFailsDeterministically(t *testing.T) {
	job := executorJob()
	store := newStubStore()
	store.objects[job.InputKey] = "source-bytes"
	analyzer := &stubAnalyzer{
		silences: []timeline.SilenceInterval{{Start: 0, End: 100}},
	}
	exec, _ := newTestExecutor(t, store, analyzer, &stubAssembler{})

	_, err := exec.Process(context.Background(), job)
	assert.ErrorIs(t, err, ErrNothingToKeep)
	assert.Empty(t, store.uploads)
}

func TestProcess_CleansScratchOnAllPaths(t *testing.T) {
	assertScratchEmpty := func(t *testing.T, scratch string) {
		t.Helper()
		entries, err := os.ReadDir(scratch)
		require.NoError(t, err)
		assert.Empty(t, entries, "scratch dir must be removed")
	}

	t.Run("success", func(t *testing.T) {
		job := executorJob()
		store := newStubStore()
		store.objects[job.InputKey] = "source-bytes"
		exec, scratch := newTestExecutor(t, store, &stubAnalyzer{}, &stubAssembler{})

		_, err := exec.Process(context.Background(), job)
		require.NoError(t, err)
		assertScratchEmpty(t, scratch)
	})

	t.Run("analysis failure", func(t *testing.T) {
		job := executorJob()
		store := newStubStore()
		store.objects[job.InputKey] = "source-bytes"
		analyzer := &stubAnalyzer{detectErr: errors.New("ffmpeg crashed")}
		exec, scratch := newTestExecutor(t, store, analyzer, &stubAssembler{})

		_, err := exec.Process(context.Background(), job)
		require.Error(t, err)
		assertScratchEmpty(t, scratch)
	})
}

func TestProcess_OutputProbeFailureLeavesDurationUnknown(t *testing.T) {
	job := executorJob()
	store := newStubStore()
	store.objects[job.InputKey] = "source-bytes"
	// First probe (source) succeeds, second (output) fails.
	probes := 0
	analyzer := &probeSequenceAnalyzer{
		probe: func(path string) (float64, error) {
			probes++
			if probes == 1 {
				return 100, nil
			}
			return 0, errors.New("unreadable output")
		},
		silences: []timeline.SilenceInterval{{Start: 10, End: 20}},
	}
	exec, _ := newTestExecutor(t, store, analyzer, &stubAssembler{})

	details, err := exec.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Nil(t, details.DurationSeconds)
	assert.NotEmpty(t, details.OutputKey, "completion proceeds without a duration")
}

type probeSequenceAnalyzer struct {
	probe    func(path string) (float64, error)
	silences []timeline.SilenceInterval
}

func (a *probeSequenceAnalyzer) ProbeDuration(_ context.Context, path string) (float64, error) {
	return a.probe(path)
}

func (a *probeSequenceAnalyzer) DetectSilences(context.Context, string) ([]timeline.SilenceInterval, error) {
	return a.silences, nil
}

func TestProcess_InvalidJobRejectedBeforePipeline(t *testing.T) {
	store := newStubStore()
	exec, _ := newTestExecutor(t, store, &stubAnalyzer{}, &stubAssembler{})

	_, err := exec.Process(context.Background(), &model.Job{ID: "not-a-uuid"})
	assert.Error(t, err)
	assert.Empty(t, store.uploads)
}

func TestOutputKey_IsolatesJobsAndSanitizes(t *testing.T) {
	a := OutputKey("job-a", "my video (final).mp4")
	b := OutputKey("job-b", "my video (final).mp4")

	assert.True(t, strings.HasPrefix(a, "outputs/job-a/"))
	assert.True(t, strings.HasPrefix(b, "outputs/job-b/"))
	assert.NotEqual(t, a, b)
	assert.NotContains(t, filepath.Base(a), " ")
	assert.NotContains(t, filepath.Base(a), "(")
	assert.True(t, strings.HasSuffix(a, "my_video__final_.mp4"))
}

func TestOutputKey_PathTraversalStripped(t *testing.T) {
	key := OutputKey("job-a", "../../etc/passwd")
	assert.True(t, strings.HasPrefix(key, "outputs/job-a/"))
	assert.NotContains(t, key, "..")
}
