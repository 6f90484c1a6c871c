package internal

import specs "github.com/chrisconley/rfms/specs"

// Split implements specs.Split. Input order is preserved within each
// partition.
func Split(aggregates []specs.CustomerAggregateSpec) (activeReviewers, silentCustomers []specs.CustomerAggregateSpec) {
	activeReviewers = make([]specs.CustomerAggregateSpec, 0, len(aggregates))
	silentCustomers = make([]specs.CustomerAggregateSpec, 0)
	for _, a := range aggregates {
		if a.ReviewScore != nil {
			activeReviewers = append(activeReviewers, a)
		} else {
			silentCustomers = append(silentCustomers, a)
		}
	}
	return activeReviewers, silentCustomers
}
