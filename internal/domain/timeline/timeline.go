// Package timeline plans the kept portions of a clip from detected silences.
//
// All times are seconds from the start of the clip. The planner is pure:
// it never touches the filesystem or the media tools.
package timeline

import "fmt"

// SilenceInterval is a detected silent span [Start, End) within a clip.
type SilenceInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the length of the interval in seconds.
func (s SilenceInterval) Duration() float64 {
	return s.End - s.Start
}

// Segment is a kept span [Start, End) of the source clip.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

func (s Segment) String() string {
	return fmt.Sprintf("[%.3f, %.3f)", s.Start, s.End)
}

// Plan computes the segments to keep from a clip of the given duration after
// cutting out the silences. Silences are assumed ordered by start time and
// non-overlapping, which is what the detector produces. The walk keeps a
// cursor at the end of the last kept span; zero-length segments are never
// emitted, so silences that touch each other or the clip edges collapse
// cleanly. Cutting everything yields an empty plan.
func Plan(duration float64, silences []SilenceInterval) []Segment {
	if duration <= 0 {
		return nil
	}

	segments := make([]Segment, 0, len(silences)+1)
	cursor := 0.0
	for _, s := range silences {
		start := clamp(s.Start, 0, duration)
		end := clamp(s.End, 0, duration)
		if end <= cursor {
			continue
		}
		if start > cursor {
			segments = append(segments, Segment{Start: cursor, End: start})
		}
		cursor = end
	}
	if cursor < duration {
		segments = append(segments, Segment{Start: cursor, End: duration})
	}
	return segments
}

// TotalDuration sums the lengths of all segments.
func TotalDuration(segments []Segment) float64 {
	total := 0.0
	for _, s := range segments {
		total += s.Duration()
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
