package catalog_test

import (
	"testing"

	"github.com/hbomb79/theapipe/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanChunks_NoSilence(t *testing.T) {
	segments := catalog.PlanChunks(100, 30, 10, nil)
	require.NotEmpty(t, segments)
	assert.InDelta(t, 0, segments[0].Start, 0.001)
}

func TestPlanChunks_RespectsMinAndMax(t *testing.T) {
	segments := catalog.PlanChunks(60, 20, 5, []float64{10, 25, 40})

	require.NotEmpty(t, segments)
	for _, s := range segments {
		assert.LessOrEqual(t, s.Duration, 20.0)
		assert.GreaterOrEqual(t, s.Duration, 5.0)
	}
}

func TestPlanChunks_IgnoresSilenceNearBoundaries(t *testing.T) {
	// silence at t=2 is within 5s of the start and must be ignored as a cut
	// candidate.
	segments := catalog.PlanChunks(30, 100, 1, []float64{2})
	require.Len(t, segments, 1)
	assert.InDelta(t, 30, segments[0].Duration, 0.001)
}

func TestPlanChunks_FinalTailSegment(t *testing.T) {
	segments := catalog.PlanChunks(50, 10, 5, []float64{10})
	require.NotEmpty(t, segments)

	last := segments[len(segments)-1]
	assert.InDelta(t, 50, last.Start+last.Duration, 0.001)
}
