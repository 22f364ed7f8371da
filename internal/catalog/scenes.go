package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	scenePtsTimePattern = regexp.MustCompile(`pts_time:([0-9.]+)`)
	sceneScorePattern   = regexp.MustCompile(`scene:([0-9.]+)`)
)

// ParseSceneEvents extracts the `pts_time` of every showinfo line that also
// carries a `scene:` score, i.e. every frame the select filter let through.
func ParseSceneEvents(stderr string) []float64 {
	var out []float64
	for _, line := range strings.Split(stderr, "\n") {
		if !sceneScorePattern.MatchString(line) {
			continue
		}
		m := scenePtsTimePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// BuildSceneSegments turns detected scene-change timestamps into bookended,
// contiguous clip segments spanning the whole input. Fails when no scene
// changes were detected or when the filter reports an implausibly large
// count (almost certainly a misconfigured threshold).
func BuildSceneSegments(duration float64, sceneTimes []float64) ([]Segment, error) {
	if len(sceneTimes) == 0 {
		return nil, fmt.Errorf("catalog: vision-analyze detected 0 scenes")
	}
	if len(sceneTimes) > 200 {
		return nil, fmt.Errorf("catalog: vision-analyze detected %d scenes, exceeding the 200 limit", len(sceneTimes))
	}

	bookended := append([]float64{0}, sceneTimes...)
	bookended = append(bookended, duration)
	sort.Float64s(bookended)

	segments := make([]Segment, 0, len(bookended)-1)
	for i := 0; i < len(bookended)-1; i++ {
		start, end := bookended[i], bookended[i+1]
		if end <= start {
			continue
		}
		segments = append(segments, Segment{Start: round3(start), Duration: round3(end - start)})
	}
	return segments, nil
}
