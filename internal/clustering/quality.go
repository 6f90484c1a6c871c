package clustering

import (
	"fmt"

	"github.com/chrisconley/rfms/internal"
)

// Quality summarizes one clustering.
type Quality struct {
	ClusterCount    int
	NoiseCount      int
	NoiseRatio      float64
	ClassifiedRatio float64

	// Density-based validity index in [-1, 1]. Zero when the clustering is
	// degenerate.
	ValidityScore float64
}

// Evaluate scores a clustering of points. With fewer than two clusters the
// validity index is undefined: the counts are still returned, together with
// a *internal.DegenerateClusteringError.
func Evaluate(points [][]float64, labels []int) (Quality, error) {
	if err := checkLabels(points, labels); err != nil {
		return Quality{}, err
	}

	var q Quality
	clusters := map[int]struct{}{}
	for _, l := range labels {
		if l == NoiseLabel {
			q.NoiseCount++
			continue
		}
		clusters[l] = struct{}{}
	}
	q.ClusterCount = len(clusters)
	if n := len(labels); n > 0 {
		q.NoiseRatio = float64(q.NoiseCount) / float64(n)
		q.ClassifiedRatio = float64(n-q.NoiseCount) / float64(n)
	}

	if q.ClusterCount < 2 {
		return q, &internal.DegenerateClusteringError{ClusterCount: q.ClusterCount}
	}
	if _, err := matrixDims(points); err != nil {
		return q, err
	}

	score, err := validityIndex(points, labels, 0)
	if err != nil {
		return q, fmt.Errorf("failed to compute validity index: %w", err)
	}
	q.ValidityScore = score
	return q, nil
}
