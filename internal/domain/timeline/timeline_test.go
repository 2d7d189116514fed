package timeline

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		silences []SilenceInterval
		want     []Segment
	}{
		{
			name:     "no silences keeps whole clip",
			duration: 120,
			silences: nil,
			want:     []Segment{{0, 120}},
		},
		{
			name:     "two interior silences",
			duration: 100,
			silences: []SilenceInterval{{10, 15}, {40, 42}},
			want:     []Segment{{0, 10}, {15, 40}, {42, 100}},
		},
		{
			name:     "silence at clip start",
			duration: 60,
			silences: []SilenceInterval{{0, 5}},
			want:     []Segment{{5, 60}},
		},
		{
			name:     "silence at clip end",
			duration: 60,
			silences: []SilenceInterval{{55, 60}},
			want:     []Segment{{0, 55}},
		},
		{
			name:     "silence covers whole clip",
			duration: 30,
			silences: []SilenceInterval{{0, 30}},
			want:     []Segment{},
		},
		{
			name:     "touching silences emit no zero-length segment",
			duration: 50,
			silences: []SilenceInterval{{10, 20}, {20, 30}},
			want:     []Segment{{0, 10}, {30, 50}},
		},
		{
			name:     "silence end past clip duration is clamped",
			duration: 40,
			silences: []SilenceInterval{{35, 45}},
			want:     []Segment{{0, 35}},
		},
		{
			name:     "silence fully inside an earlier silence is skipped",
			duration: 40,
			silences: []SilenceInterval{{5, 20}, {10, 15}},
			want:     []Segment{{0, 5}, {20, 40}},
		},
		{
			name:     "zero duration clip",
			duration: 0,
			silences: []SilenceInterval{{0, 1}},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.duration, tt.silences)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i].Start, got[i].Start, 1e-9)
				assert.InDelta(t, tt.want[i].End, got[i].End, 1e-9)
			}
		})
	}
}

// Segments must be ordered, non-overlapping, positive-length, and their total
// duration plus the cut silence must equal the clip duration.
func TestPlan_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for iter := 0; iter < 200; iter++ {
		duration := 10 + rng.Float64()*290

		n := rng.Intn(8)
		points := make([]float64, 0, n*2)
		for i := 0; i < n*2; i++ {
			points = append(points, rng.Float64()*duration)
		}
		sort.Float64s(points)
		silences := make([]SilenceInterval, 0, n)
		cut := 0.0
		for i := 0; i+1 < len(points); i += 2 {
			s := SilenceInterval{Start: points[i], End: points[i+1]}
			silences = append(silences, s)
			cut += s.Duration()
		}

		segments := Plan(duration, silences)

		total := 0.0
		prevEnd := -1.0
		for _, seg := range segments {
			assert.Greater(t, seg.End, seg.Start, "zero or negative length segment %v", seg)
			assert.GreaterOrEqual(t, seg.Start, prevEnd, "overlapping segments")
			assert.GreaterOrEqual(t, seg.Start, 0.0)
			assert.LessOrEqual(t, seg.End, duration)
			prevEnd = seg.End
			total += seg.Duration()
		}
		assert.InDelta(t, duration-cut, total, 1e-6, "kept + cut must cover the clip")
	}
}

func TestTotalDuration(t *testing.T) {
	assert.Equal(t, 0.0, TotalDuration(nil))
	assert.InDelta(t, 83.0, TotalDuration([]Segment{{0, 10}, {15, 40}, {42, 100}}), 1e-9)
}
