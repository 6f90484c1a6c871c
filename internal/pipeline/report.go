package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	specs "github.com/chrisconley/rfms/specs"
	"github.com/google/uuid"
)

// ClusterReport is the JSON summary of one clustering run. The flat
// top-level quality fields describe the baseline cohort.
type ClusterReport struct {
	RunID     uuid.UUID `json:"run_id"`
	SplitDate string    `json:"split_date"`

	ClusterCount    int      `json:"cluster_count"`
	NoiseRatio      float64  `json:"noise_ratio"`
	ClassifiedRatio float64  `json:"classified_ratio"`
	ValidityScore   *float64 `json:"validity_score"`

	Baseline specs.CohortQualitySpec `json:"baseline"`
	Current  specs.CohortQualitySpec `json:"current"`
	Drift    DriftSummary            `json:"drift"`
}

func NewClusterReport(runID uuid.UUID, split time.Time, baseline, current CohortResult) ClusterReport {
	b := baseline.QualitySpec()
	return ClusterReport{
		RunID:           runID,
		SplitDate:       split.Format(time.DateOnly),
		ClusterCount:    b.ClusterCount,
		NoiseRatio:      b.NoiseRatio,
		ClassifiedRatio: b.ClassifiedRatio,
		ValidityScore:   b.ValidityScore,
		Baseline:        b,
		Current:         current.QualitySpec(),
		Drift:           Drift(baseline, current),
	}
}

// WriteReport writes r as indented JSON to path.
func WriteReport(path string, r ClusterReport) error {
	content, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cluster report: %w", err)
	}
	if err := os.WriteFile(path, append(content, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
