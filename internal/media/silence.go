package media

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/quietcut/quietcut/internal/domain/timeline"
)

// silencedetect writes its markers to stderr as log lines, e.g.
//
//	[silencedetect @ 0x...] silence_start: 12.462
//	[silencedetect @ 0x...] silence_end: 15.100 | silence_duration: 2.638
var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)
)

// DetectSilences runs the silencedetect filter over the whole file and
// returns the detected silent spans in order.
func (f *FFmpeg) DetectSilences(ctx context.Context, path string) ([]timeline.SilenceInterval, error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", f.noiseDB, f.minSilence)
	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner",
		"-nostats",
		"-i", path,
		"-af", filter,
		"-f", "null",
		"-",
	)

	// ffmpeg logs to stderr; the null muxer writes nothing to stdout.
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg silencedetect %s: %w: %s", path, err, truncate(out, 512))
	}

	return parseSilences(out), nil
}

// parseSilences pairs silence_start/silence_end markers in order of
// appearance. A trailing start without a matching end (silence running into
// EOF with no end marker emitted) is discarded.
func parseSilences(output []byte) []timeline.SilenceInterval {
	var silences []timeline.SilenceInterval
	var pendingStart *float64

	for _, line := range splitLines(output) {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				start := v
				if start < 0 {
					start = 0
				}
				pendingStart = &start
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil {
			if pendingStart == nil {
				continue
			}
			if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > *pendingStart {
				silences = append(silences, timeline.SilenceInterval{Start: *pendingStart, End: v})
			}
			pendingStart = nil
		}
	}

	return silences
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' || c == '\r' {
			if i > start {
				lines = append(lines, string(b[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
