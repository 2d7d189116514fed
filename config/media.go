package config

import "strings"

// MediaConfig contains ffmpeg toolchain configuration.
type MediaConfig struct {
	// FFmpegPath is the ffmpeg binary; resolved via PATH when bare.
	FFmpegPath string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	// FFprobePath is the ffprobe binary; resolved via PATH when bare.
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	// NoiseDB is the silencedetect noise floor in dBFS. Audio below this
	// level counts as silence.
	NoiseDB float64 `env:"MEDIA_NOISE_DB" envDefault:"-30"`

	// MinSilenceSeconds is the shortest silent span worth cutting.
	MinSilenceSeconds float64 `env:"MEDIA_MIN_SILENCE_SECONDS" envDefault:"0.5"`

	// ScratchDir is the parent directory for per-job working directories.
	// Empty means the system temp dir.
	ScratchDir string `env:"MEDIA_SCRATCH_DIR"`
}

// Sanitize applies guardrails to media configuration values.
func (m *MediaConfig) Sanitize() {
	m.FFmpegPath = strings.TrimSpace(m.FFmpegPath)
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	m.FFprobePath = strings.TrimSpace(m.FFprobePath)
	if m.FFprobePath == "" {
		m.FFprobePath = "ffprobe"
	}
	if m.NoiseDB >= 0 {
		m.NoiseDB = -30
	}
	if m.MinSilenceSeconds <= 0 {
		m.MinSilenceSeconds = 0.5
	}
	m.ScratchDir = strings.TrimSpace(m.ScratchDir)
}
