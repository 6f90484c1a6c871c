package pipeline

import (
	"errors"
	"fmt"

	"github.com/chrisconley/rfms/internal"
	"github.com/chrisconley/rfms/internal/clustering"
	specs "github.com/chrisconley/rfms/specs"
)

// ModelConfig holds the parameters of every clustering stage.
type ModelConfig struct {
	Embedding clustering.EmbeddingConfig
	DBSCAN    clustering.DBSCAN
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Embedding: clustering.DefaultEmbeddingConfig(),
		DBSCAN:    clustering.DefaultDBSCAN(),
	}
}

// Model is the transform and embedding fitted on the baseline cohort. Later
// cohorts are projected with it, never refit, so their coordinates are
// comparable with the baseline.
type Model struct {
	transform clustering.FittedTransform
	embedding clustering.FittedEmbedding
	dbscan    clustering.DBSCAN
}

// CohortResult is the clustering of one cohort.
type CohortResult struct {
	Cohort string
	Rows   []clustering.FeatureRow

	// Profiles left out because a feature was missing.
	Excluded int

	// Transformed features and embedded coordinates, by position in Rows.
	Features  [][]float64
	Embedding [][]float64

	Labels  []int
	Quality clustering.Quality

	// Fewer than two clusters; the validity score is undefined.
	Degenerate bool
}

// FitBaseline fits the transform and the embedding on aggregates, then
// clusters and scores the baseline embedding.
func FitBaseline(aggregates []specs.CustomerAggregateSpec, config ModelConfig) (*Model, CohortResult, error) {
	rows, excluded, err := featureRows(aggregates)
	if err != nil {
		return nil, CohortResult{}, err
	}

	transform, err := clustering.FitTransform(rows)
	if err != nil {
		return nil, CohortResult{}, fmt.Errorf("failed to fit feature transform: %w", err)
	}
	features, err := transform.Apply(rows)
	if err != nil {
		return nil, CohortResult{}, fmt.Errorf("failed to apply feature transform: %w", err)
	}

	embedding, err := clustering.FitEmbedding(features, config.Embedding)
	if err != nil {
		return nil, CohortResult{}, fmt.Errorf("failed to fit embedding: %w", err)
	}

	model := &Model{transform: transform, embedding: embedding, dbscan: config.DBSCAN}
	result, err := model.cluster(BaselineCohort, rows, excluded, features, embedding.Baseline())
	if err != nil {
		return nil, CohortResult{}, err
	}
	return model, result, nil
}

// Project places a later cohort in the baseline space and clusters it
// afresh. Cluster labels are derived per cohort.
func (m *Model) Project(aggregates []specs.CustomerAggregateSpec) (CohortResult, error) {
	rows, excluded, err := featureRows(aggregates)
	if err != nil {
		return CohortResult{}, err
	}
	features, err := m.transform.Apply(rows)
	if err != nil {
		return CohortResult{}, fmt.Errorf("failed to apply feature transform: %w", err)
	}
	coords, err := m.embedding.Apply(features)
	if err != nil {
		return CohortResult{}, fmt.Errorf("failed to project embedding: %w", err)
	}
	return m.cluster(CurrentCohort, rows, excluded, features, coords)
}

// Lambda exposes the fitted power parameter of a skewed feature.
func (m *Model) Lambda(feature string) float64 {
	return m.transform.Lambda(feature)
}

func (m *Model) cluster(cohort string, rows []clustering.FeatureRow, excluded int, features, coords [][]float64) (CohortResult, error) {
	labels, err := m.dbscan.Fit(coords)
	if err != nil {
		return CohortResult{}, fmt.Errorf("failed to cluster %s cohort: %w", cohort, err)
	}

	result := CohortResult{
		Cohort:    cohort,
		Rows:      rows,
		Excluded:  excluded,
		Features:  features,
		Embedding: coords,
		Labels:    labels,
	}

	quality, err := clustering.Evaluate(coords, labels)
	var degenerate *internal.DegenerateClusteringError
	switch {
	case errors.As(err, &degenerate):
		result.Degenerate = true
	case err != nil:
		return CohortResult{}, fmt.Errorf("failed to evaluate %s cohort: %w", cohort, err)
	}
	result.Quality = quality
	return result, nil
}

// Assignments returns one row per clustered customer, in cohort order.
func (r CohortResult) Assignments() []specs.ClusterAssignmentSpec {
	out := make([]specs.ClusterAssignmentSpec, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = specs.ClusterAssignmentSpec{
			CustomerUniqueID: row.CustomerUniqueID,
			Recency:          *row.Recency,
			Frequency:        *row.Frequency,
			Monetary:         *row.Monetary,
			ReviewScore:      *row.ReviewScore,
			Embedding:        r.Embedding[i],
			ClusterLabel:     r.Labels[i],
		}
	}
	return out
}

// QualitySpec summarizes the result for reports and run history.
func (r CohortResult) QualitySpec() specs.CohortQualitySpec {
	q := specs.CohortQualitySpec{
		Cohort:          r.Cohort,
		Customers:       len(r.Rows),
		ClusterCount:    r.Quality.ClusterCount,
		NoiseRatio:      r.Quality.NoiseRatio,
		ClassifiedRatio: r.Quality.ClassifiedRatio,
		Degenerate:      r.Degenerate,
	}
	if !r.Degenerate {
		score := r.Quality.ValidityScore
		q.ValidityScore = &score
	}
	return q
}

// featureRows converts profiles to feature rows, skipping those without a
// monetary value or a review score.
func featureRows(aggregates []specs.CustomerAggregateSpec) ([]clustering.FeatureRow, int, error) {
	rows := make([]clustering.FeatureRow, 0, len(aggregates))
	excluded := 0
	for _, a := range aggregates {
		row, err := clustering.NewFeatureRow(a)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid customer %s: %w", a.CustomerUniqueID, err)
		}
		if row.Monetary == nil || row.ReviewScore == nil {
			excluded++
			continue
		}
		rows = append(rows, row)
	}
	return rows, excluded, nil
}
