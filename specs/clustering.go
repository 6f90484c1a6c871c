package specs

// ClusterAssignmentSpec is the clustering outcome for one customer.
type ClusterAssignmentSpec struct {
	CustomerUniqueID string `json:"customer_unique_id"`

	// RFMS features the customer was clustered on, untransformed.
	Recency     float64 `json:"recency"`
	Frequency   float64 `json:"frequency"`
	Monetary    float64 `json:"monetary"`
	ReviewScore float64 `json:"review_score"`

	// Coordinates of the customer in the baseline embedding space.
	Embedding []float64 `json:"embedding"`

	// Cluster identifier (0, 1, ...) or -1 for noise.
	//
	// Labels are derived per cohort; the same number in two cohorts does not
	// denote the same segment.
	ClusterLabel int `json:"cluster_label"`
}

// CohortQualitySpec summarizes the clustering of one cohort.
type CohortQualitySpec struct {
	// "baseline" or "current".
	Cohort string `json:"cohort"`

	// Number of customers clustered.
	Customers int `json:"customers"`

	// Distinct cluster labels, noise excluded.
	ClusterCount int `json:"cluster_count"`

	// Share of customers labelled as noise, in [0, 1].
	NoiseRatio float64 `json:"noise_ratio"`

	// Share of customers assigned to a cluster, in [0, 1].
	ClassifiedRatio float64 `json:"classified_ratio"`

	// Density-based validity index, roughly in [-1, 1]. Nil when fewer than
	// two clusters were found and the index is undefined.
	ValidityScore *float64 `json:"validity_score"`

	// True when fewer than two clusters were found.
	Degenerate bool `json:"degenerate"`
}
