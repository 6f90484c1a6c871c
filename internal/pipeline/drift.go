package pipeline

import (
	"sort"

	"github.com/chrisconley/rfms/internal/clustering"
	"gonum.org/v1/gonum/stat"
)

// FeatureShift compares one transformed feature across cohorts.
type FeatureShift struct {
	Feature        string  `json:"feature"`
	BaselineMedian float64 `json:"baseline_median"`
	CurrentMedian  float64 `json:"current_median"`
	Shift          float64 `json:"shift"`
}

// DriftSummary describes how the current cohort moved away from the
// baseline. Features are compared in the baseline-fitted scale.
type DriftSummary struct {
	// Empty when either cohort has no clustered customers.
	FeatureShifts []FeatureShift `json:"feature_shifts"`

	ClusterCountDelta    int     `json:"cluster_count_delta"`
	NoiseRatioDelta      float64 `json:"noise_ratio_delta"`
	ClassifiedRatioDelta float64 `json:"classified_ratio_delta"`

	// Nil when either cohort is degenerate.
	ValidityScoreDelta *float64 `json:"validity_score_delta"`
}

// Drift computes current minus baseline for every tracked quantity.
func Drift(baseline, current CohortResult) DriftSummary {
	d := DriftSummary{
		FeatureShifts:        []FeatureShift{},
		ClusterCountDelta:    current.Quality.ClusterCount - baseline.Quality.ClusterCount,
		NoiseRatioDelta:      current.Quality.NoiseRatio - baseline.Quality.NoiseRatio,
		ClassifiedRatioDelta: current.Quality.ClassifiedRatio - baseline.Quality.ClassifiedRatio,
	}
	if !baseline.Degenerate && !current.Degenerate {
		delta := current.Quality.ValidityScore - baseline.Quality.ValidityScore
		d.ValidityScoreDelta = &delta
	}

	if len(baseline.Features) == 0 || len(current.Features) == 0 {
		return d
	}
	for col, name := range clustering.FeatureColumns {
		b := median(baseline.Features, col)
		c := median(current.Features, col)
		d.FeatureShifts = append(d.FeatureShifts, FeatureShift{
			Feature:        name,
			BaselineMedian: b,
			CurrentMedian:  c,
			Shift:          c - b,
		})
	}
	return d
}

// median is the empirical median; the lower middle value for even counts.
func median(matrix [][]float64, col int) float64 {
	values := make([]float64, len(matrix))
	for i, row := range matrix {
		values[i] = row[col]
	}
	sort.Float64s(values)
	return stat.Quantile(0.5, stat.Empirical, values, nil)
}
