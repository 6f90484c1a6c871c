package clustering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborIndex(t *testing.T) {
	points := [][]float64{{0, 0}, {3, 4}, {1, 0}, {0, 2}, {10, 10}}
	index := newNeighborIndex(points)

	t.Run("nearest includes the query point itself first", func(t *testing.T) {
		got := index.nearest(points[0], 3)

		require.Len(t, got, 3)
		assert.Equal(t, neighbor{Index: 0, Dist: 0}, got[0])
		assert.Equal(t, neighbor{Index: 2, Dist: 1}, got[1])
		assert.Equal(t, neighbor{Index: 3, Dist: 2}, got[2])
	})

	t.Run("nearest returns every point when k exceeds the set", func(t *testing.T) {
		got := index.nearest([]float64{0, 0}, 10)

		assert.Len(t, got, len(points))
		assert.Equal(t, 5.0, got[3].Dist)
	})

	t.Run("within is inclusive and ordered by index", func(t *testing.T) {
		got := index.within([]float64{0, 0}, 2)

		assert.Equal(t, []int{0, 2, 3}, got)
	})

	t.Run("building the index leaves the input untouched", func(t *testing.T) {
		assert.Equal(t, []float64{3, 4}, points[1])
		assert.Equal(t, []float64{10, 10}, points[4])
	})
}

func TestForEachRow(t *testing.T) {
	t.Run("visits every row exactly once", func(t *testing.T) {
		for _, workers := range []int{0, 1, 3, 64} {
			seen := make([]int, 100)

			err := forEachRow(len(seen), workers, func(i int) error {
				seen[i]++
				return nil
			})

			require.NoError(t, err)
			for i, n := range seen {
				assert.Equal(t, 1, n, "row %d with %d workers", i, workers)
			}
		}
	})

	t.Run("returns the first error", func(t *testing.T) {
		err := forEachRow(10, 2, func(i int) error {
			if i == 7 {
				return assert.AnError
			}
			return nil
		})

		assert.ErrorIs(t, err, assert.AnError)
	})
}
