package pipeline

import (
	"testing"

	"github.com/chrisconley/rfms/internal/clustering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cohortResult(features [][]float64, q clustering.Quality, degenerate bool) CohortResult {
	return CohortResult{Features: features, Quality: q, Degenerate: degenerate}
}

func TestDrift(t *testing.T) {
	t.Run("reports current minus baseline", func(t *testing.T) {
		// Arrange
		baseline := cohortResult(
			[][]float64{{0, 1, 2, 3}, {1, 2, 3, 4}, {2, 3, 4, 5}},
			clustering.Quality{ClusterCount: 3, NoiseRatio: 0.1, ClassifiedRatio: 0.9, ValidityScore: 0.5},
			false,
		)
		current := cohortResult(
			[][]float64{{5, 1, 2, 0}, {6, 1, 2, 0}, {7, 1, 2, 0}},
			clustering.Quality{ClusterCount: 2, NoiseRatio: 0.3, ClassifiedRatio: 0.7, ValidityScore: 0.2},
			false,
		)

		// Act
		d := Drift(baseline, current)

		// Assert
		assert.Equal(t, -1, d.ClusterCountDelta)
		assert.InDelta(t, 0.2, d.NoiseRatioDelta, 1e-12)
		assert.InDelta(t, -0.2, d.ClassifiedRatioDelta, 1e-12)
		require.NotNil(t, d.ValidityScoreDelta)
		assert.InDelta(t, -0.3, *d.ValidityScoreDelta, 1e-12)

		require.Len(t, d.FeatureShifts, 4)
		assert.Equal(t, "frequency", d.FeatureShifts[0].Feature)
		assert.Equal(t, 1.0, d.FeatureShifts[0].BaselineMedian)
		assert.Equal(t, 6.0, d.FeatureShifts[0].CurrentMedian)
		assert.Equal(t, 5.0, d.FeatureShifts[0].Shift)
		assert.Equal(t, "review_score", d.FeatureShifts[3].Feature)
		assert.Equal(t, -4.0, d.FeatureShifts[3].Shift)
	})

	t.Run("validity delta is undefined when a cohort is degenerate", func(t *testing.T) {
		baseline := cohortResult([][]float64{{0, 0, 0, 0}}, clustering.Quality{ClusterCount: 2, ValidityScore: 0.4}, false)
		current := cohortResult([][]float64{{0, 0, 0, 0}}, clustering.Quality{ClusterCount: 1}, true)

		d := Drift(baseline, current)

		assert.Nil(t, d.ValidityScoreDelta)
		assert.Equal(t, -1, d.ClusterCountDelta)
	})

	t.Run("feature shifts are empty when a cohort has no rows", func(t *testing.T) {
		baseline := cohortResult([][]float64{{0, 0, 0, 0}}, clustering.Quality{}, true)
		current := cohortResult(nil, clustering.Quality{}, true)

		d := Drift(baseline, current)

		assert.NotNil(t, d.FeatureShifts)
		assert.Empty(t, d.FeatureShifts)
	})
}
