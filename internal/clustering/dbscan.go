package clustering

import (
	"fmt"

	"github.com/chrisconley/rfms/internal"
)

// NoiseLabel marks points that belong to no cluster.
const NoiseLabel = -1

// DBSCAN is density-based spatial clustering. A point is a core point when at
// least MinSamples points, itself included, lie within Eps of it.
type DBSCAN struct {
	Eps        float64
	MinSamples int

	// Parallelism of the neighbourhood count. Zero means GOMAXPROCS. Labels
	// do not depend on it.
	Workers int
}

func DefaultDBSCAN() DBSCAN {
	return DBSCAN{Eps: 0.6, MinSamples: 5}
}

// Fit labels every point with a cluster ID (0, 1, ...) or NoiseLabel.
// Clusters are numbered in order of their lowest-index core point, so the
// same input always yields the same labels.
func (d DBSCAN) Fit(points [][]float64) ([]int, error) {
	if d.Eps <= 0 {
		return nil, fmt.Errorf("invalid eps: must be positive, got %g", d.Eps)
	}
	if d.MinSamples < 1 {
		return nil, fmt.Errorf("invalid min_samples: must be at least 1, got %d", d.MinSamples)
	}
	if len(points) == 0 {
		return []int{}, nil
	}
	if _, err := matrixDims(points); err != nil {
		return nil, err
	}

	index := newNeighborIndex(points)
	core := make([]bool, len(points))
	err := forEachRow(len(points), d.Workers, func(i int) error {
		core[i] = len(index.within(points[i], d.Eps)) >= d.MinSamples
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count neighbours: %w", err)
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = NoiseLabel
	}

	next := 0
	var stack []int
	for i := range points {
		if labels[i] != NoiseLabel || !core[i] {
			continue
		}
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if labels[p] != NoiseLabel {
				continue
			}
			labels[p] = next
			if !core[p] {
				continue
			}
			for _, q := range index.within(points[p], d.Eps) {
				if labels[q] == NoiseLabel {
					stack = append(stack, q)
				}
			}
		}
		next++
	}
	return labels, nil
}

// checkLabels verifies that labels line up with points.
func checkLabels(points [][]float64, labels []int) error {
	if len(points) != len(labels) {
		return &internal.SchemaError{Reason: fmt.Sprintf("%d points but %d labels", len(points), len(labels))}
	}
	for i, l := range labels {
		if l < NoiseLabel {
			return &internal.SchemaError{Field: "cluster_label", Reason: fmt.Sprintf("row %d has invalid label %d", i, l)}
		}
	}
	return nil
}
