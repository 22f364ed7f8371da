package catalog

import (
	"regexp"
	"strconv"
)

var silenceStartPattern = regexp.MustCompile(`silence_start:\s*(-?[0-9.]+)`)

// ParseSilenceEvents extracts the `silence_start` timestamps ffmpeg's
// `silencedetect` filter writes to stderr. `silence_end` markers are not
// needed by the chunk planner (only start-of-silence cut candidates are
// used), so they're ignored here.
func ParseSilenceEvents(stderr string) []float64 {
	matches := silenceStartPattern.FindAllStringSubmatch(stderr, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}
