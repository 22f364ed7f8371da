package catalog

import (
	"math"
	"sort"
)

// PlanChunks computes ASR processing chunks from a silence-aware cut list.
// See the silence-aware chunk planner algorithm: silence starts within
// (5, duration-5) become candidate cut points; a chunk is only emitted once
// it has accumulated at least minChunk seconds, and is capped at maxChunk.
// A trailing remainder longer than 5s after the last emitted chunk becomes
// one final segment running to duration; that segment is not capped at
// maxChunk.
func PlanChunks(duration, maxChunk, minChunk float64, silenceStarts []float64) []Segment {
	cuts := []float64{0}
	for _, s := range silenceStarts {
		if s > 5 && s < duration-5 {
			cuts = append(cuts, s)
		}
	}
	cuts = append(cuts, duration)
	sort.Float64s(cuts)

	var segments []Segment
	start := 0.0
	for _, c := range cuts {
		if c-start >= minChunk {
			end := math.Min(start+maxChunk, c)
			segments = append(segments, Segment{
				Start:    round3(start),
				Duration: round3(end - start),
			})
			start = end
		}
	}

	if duration-start > 5 {
		segments = append(segments, Segment{
			Start:    round3(start),
			Duration: round3(duration - start),
		})
	}

	return segments
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
