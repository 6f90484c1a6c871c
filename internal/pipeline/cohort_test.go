package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCutoff(t *testing.T) {
	t.Run("month keeps the whole month in the baseline", func(t *testing.T) {
		split, err := ParseCutoff("2017-12")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), split)
	})

	t.Run("default cutoff splits at the start of 2018", func(t *testing.T) {
		split, err := ParseCutoff(DefaultCutoff)

		require.NoError(t, err)
		assert.Equal(t, "2018-01-01", split.Format(time.DateOnly))
	})

	t.Run("full date is the split instant", func(t *testing.T) {
		split, err := ParseCutoff(" 2018-03-15 ")

		require.NoError(t, err)
		assert.Equal(t, time.Date(2018, 3, 15, 0, 0, 0, 0, time.UTC), split)
	})

	t.Run("malformed cutoffs are parse errors", func(t *testing.T) {
		for _, raw := range []string{"", "12/2017", "2017-13", "2017-12-32", "2017"} {
			_, err := ParseCutoff(raw)

			var parseErr *internal.ParseError
			require.True(t, errors.As(err, &parseErr), "cutoff %q", raw)
			assert.Equal(t, "cutoff", parseErr.Field)
		}
	})
}

func TestSplitCohorts(t *testing.T) {
	at := func(id string, ts time.Time) specs.CustomerAggregateSpec {
		return specs.CustomerAggregateSpec{CustomerUniqueID: id, OrderPurchaseTimestamp: ts}
	}
	split := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("splits strictly before the cutoff into the baseline", func(t *testing.T) {
		// Arrange
		aggregates := []specs.CustomerAggregateSpec{
			at("a", split.Add(-time.Second)),
			at("b", split),
			at("c", split.AddDate(-1, 0, 0)),
			at("d", split.AddDate(0, 2, 0)),
		}

		// Act
		baseline, current := SplitCohorts(aggregates, split)

		// Assert
		assert.Equal(t, []string{"a", "c"}, ids(baseline))
		assert.Equal(t, []string{"b", "d"}, ids(current))
	})

	t.Run("empty input yields empty cohorts", func(t *testing.T) {
		baseline, current := SplitCohorts(nil, split)

		assert.Empty(t, baseline)
		assert.Empty(t, current)
		assert.NotNil(t, current)
	})
}

func ids(aggregates []specs.CustomerAggregateSpec) []string {
	out := make([]string, len(aggregates))
	for i, a := range aggregates {
		out[i] = a.CustomerUniqueID
	}
	return out
}
