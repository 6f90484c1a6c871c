package pipeline

import (
	"errors"
	"strings"
	"time"

	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
)

// DefaultCutoff keeps every order up to the end of December 2017 in the
// baseline cohort.
const DefaultCutoff = "2017-12"

const (
	BaselineCohort = "baseline"
	CurrentCohort  = "current"
)

var errCutoffFormat = errors.New("expected YYYY-MM or YYYY-MM-DD")

// ParseCutoff returns the instant that separates the baseline cohort from
// the current one. A month ("2017-12") keeps that whole month in the
// baseline, so the split is the first day of the following month. A full
// date is the split instant itself. Times are UTC.
func ParseCutoff(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if month, err := time.Parse("2006-01", s); err == nil {
		return month.AddDate(0, 1, 0), nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, &internal.ParseError{Field: "cutoff", Value: s, Err: errCutoffFormat}
	}
	return day, nil
}

// SplitCohorts partitions profiles on their latest purchase: strictly before
// split goes to the baseline, the rest to the current cohort. Input order is
// preserved.
func SplitCohorts(aggregates []specs.CustomerAggregateSpec, split time.Time) (baseline, current []specs.CustomerAggregateSpec) {
	baseline = make([]specs.CustomerAggregateSpec, 0, len(aggregates))
	current = make([]specs.CustomerAggregateSpec, 0)
	for _, a := range aggregates {
		if a.OrderPurchaseTimestamp.Before(split) {
			baseline = append(baseline, a)
		} else {
			current = append(current, a)
		}
	}
	return baseline, current
}
