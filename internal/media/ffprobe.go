// Package media wraps the ffmpeg toolchain for probing, silence detection,
// and lossless cut-and-concat assembly of local files.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Config holds the toolchain binaries and silence detection thresholds.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	// NoiseDB is the silencedetect noise floor in dBFS, e.g. -30.
	NoiseDB float64
	// MinSilenceSeconds is the shortest span silencedetect reports.
	MinSilenceSeconds float64
	Logger            *slog.Logger
}

// FFmpeg shells out to ffmpeg/ffprobe. It is safe for concurrent use; every
// call spawns its own process under the caller's context.
type FFmpeg struct {
	ffmpeg     string
	ffprobe    string
	noiseDB    float64
	minSilence float64
	logger     *slog.Logger
}

// New creates an FFmpeg toolchain wrapper, filling in defaults for unset fields.
func New(cfg Config) *FFmpeg {
	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := cfg.FFprobePath
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	noise := cfg.NoiseDB
	if noise == 0 {
		noise = -30
	}
	minSilence := cfg.MinSilenceSeconds
	if minSilence <= 0 {
		minSilence = 0.5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		ffmpeg:     ffmpeg,
		ffprobe:    ffprobe,
		noiseDB:    noise,
		minSilence: minSilence,
		logger:     logger.With("component", "media"),
	}
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of the file in seconds.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe,
		"-v", "error",
		"-show_format",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probe probeFormat
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if strings.TrimSpace(probe.Format.Duration) == "" {
		return 0, errors.New("ffprobe output missing format duration")
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %f", duration)
	}
	return duration, nil
}
