package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quietcut/quietcut/internal/domain/timeline"
)

// ExtractSegment stream-copies one kept span of src into dst. No re-encode:
// cuts land on the nearest preceding keyframe, which is the accepted
// trade-off for lossless speed.
func (f *FFmpeg) ExtractSegment(ctx context.Context, src, dst string, seg timeline.Segment) error {
	if seg.Duration() <= 0 {
		return fmt.Errorf("segment %s has no duration", seg)
	}

	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner",
		"-nostats",
		"-y",
		"-ss", formatSeconds(seg.Start),
		"-to", formatSeconds(seg.End),
		"-i", src,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extract segment %s: %w: %s", seg, err, truncate(out, 512))
	}
	return nil
}

// Concat joins the part files into dst with the concat demuxer, again without
// re-encoding. The manifest is written next to the first part, inside the
// job's scratch directory.
func (f *FFmpeg) Concat(ctx context.Context, parts []string, dst string) error {
	if len(parts) == 0 {
		return errors.New("no parts to concatenate")
	}

	manifest := filepath.Join(filepath.Dir(parts[0]), "concat.txt")
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve part path %s: %w", p, err)
		}
		// Single quotes in concat manifests are closed, escaped, reopened.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(manifest, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write concat manifest: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.ffmpeg,
		"-hide_banner",
		"-nostats",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		dst,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("concat %d parts: %w: %s", len(parts), err, truncate(out, 512))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
