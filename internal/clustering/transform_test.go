package clustering

import (
	"errors"
	"math"
	"testing"

	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func featureRows(n int) []FeatureRow {
	rows := make([]FeatureRow, n)
	for i := range rows {
		// Heavy tail on frequency and monetary, roughly uniform elsewhere.
		rows[i] = FeatureRow{
			CustomerUniqueID: string(rune('a' + i%26)),
			Frequency:        ptr(1 + math.Floor(math.Pow(float64(i%10), 2)/20)),
			Monetary:         ptr(10 * math.Exp(float64(i%13)/3)),
			Recency:          ptr(float64((i * 37) % 400)),
			ReviewScore:      ptr(float64(1 + i%5)),
		}
	}
	return rows
}

func TestFeatureRow(t *testing.T) {
	t.Run("converts aggregate decimals", func(t *testing.T) {
		monetary, score := "16.50", "4.5"
		spec := specs.CustomerAggregateSpec{CustomerUniqueID: "C1", Recency: 3, Frequency: 2, Monetary: &monetary, ReviewScore: &score}

		row, err := NewFeatureRow(spec)

		require.NoError(t, err)
		assert.Equal(t, 3.0, *row.Recency)
		assert.Equal(t, 2.0, *row.Frequency)
		assert.Equal(t, 16.5, *row.Monetary)
		assert.Equal(t, 4.5, *row.ReviewScore)
	})

	t.Run("null aggregate fields stay missing", func(t *testing.T) {
		row, err := NewFeatureRow(specs.CustomerAggregateSpec{CustomerUniqueID: "C1"})

		require.NoError(t, err)
		assert.Nil(t, row.Monetary)
		assert.Nil(t, row.ReviewScore)
	})

	t.Run("non-finite decimals are parse errors", func(t *testing.T) {
		for _, raw := range []string{"NaN", "Inf", "-Infinity"} {
			t.Run(raw, func(t *testing.T) {
				value := raw
				spec := specs.CustomerAggregateSpec{CustomerUniqueID: "C1", Monetary: &value}

				_, err := NewFeatureRow(spec)

				var parseErr *internal.ParseError
				require.True(t, errors.As(err, &parseErr), "got %v", err)
				assert.Equal(t, "monetary", parseErr.Field)
			})
		}
	})
}

func TestFitTransform(t *testing.T) {
	t.Run("output columns follow frequency, monetary, recency, review score", func(t *testing.T) {
		rows := featureRows(60)

		fitted, err := FitTransform(rows)
		require.NoError(t, err)
		matrix, err := fitted.Apply(rows)

		require.NoError(t, err)
		require.Len(t, matrix, 60)
		for _, row := range matrix {
			assert.Len(t, row, len(FeatureColumns))
		}
		assert.Equal(t, []string{"frequency", "monetary", "recency", "review_score"}, FeatureColumns)
	})

	t.Run("robust scaled columns are centred on their median", func(t *testing.T) {
		rows := []FeatureRow{
			{Frequency: ptr(1), Monetary: ptr(10), Recency: ptr(0), ReviewScore: ptr(1)},
			{Frequency: ptr(1), Monetary: ptr(20), Recency: ptr(10), ReviewScore: ptr(2)},
			{Frequency: ptr(2), Monetary: ptr(40), Recency: ptr(20), ReviewScore: ptr(3)},
			{Frequency: ptr(3), Monetary: ptr(80), Recency: ptr(30), ReviewScore: ptr(4)},
			{Frequency: ptr(9), Monetary: ptr(900), Recency: ptr(40), ReviewScore: ptr(5)},
		}

		fitted, err := FitTransform(rows)
		require.NoError(t, err)
		matrix, err := fitted.Apply(rows)
		require.NoError(t, err)

		// Recency: median 20, IQR 30 - 10 = 20.
		assert.InDelta(t, -1.0, matrix[0][2], 1e-12)
		assert.InDelta(t, 0.0, matrix[2][2], 1e-12)
		assert.InDelta(t, 1.0, matrix[4][2], 1e-12)
		// Review score: median 3, IQR 2.
		assert.InDelta(t, -1.0, matrix[0][3], 1e-12)
		assert.InDelta(t, 0.5, matrix[3][3], 1e-12)
	})

	t.Run("skewed columns are less skewed after the power transform", func(t *testing.T) {
		rows := featureRows(200)
		fitted, err := FitTransform(rows)
		require.NoError(t, err)
		matrix, err := fitted.Apply(rows)
		require.NoError(t, err)

		raw := make([]float64, len(rows))
		for i, r := range rows {
			raw[i] = *r.Monetary
		}
		assert.Less(t, math.Abs(skewness(column(matrix, 1))), math.Abs(skewness(raw)))
		assert.False(t, math.IsNaN(fitted.Lambda("monetary")))
		assert.True(t, math.IsNaN(fitted.Lambda("recency")))
	})

	t.Run("constant columns do not blow up", func(t *testing.T) {
		rows := []FeatureRow{
			{Frequency: ptr(1), Monetary: ptr(5), Recency: ptr(7), ReviewScore: ptr(5)},
			{Frequency: ptr(1), Monetary: ptr(5), Recency: ptr(7), ReviewScore: ptr(5)},
		}

		fitted, err := FitTransform(rows)
		require.NoError(t, err)
		matrix, err := fitted.Apply(rows)

		require.NoError(t, err)
		for _, row := range matrix {
			for _, v := range row {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		}
		assert.Equal(t, 1.0, fitted.Lambda("frequency"))
	})

	t.Run("apply is stable for unseen rows", func(t *testing.T) {
		fitted, err := FitTransform(featureRows(50))
		require.NoError(t, err)
		unseen := []FeatureRow{{Frequency: ptr(40), Monetary: ptr(1e5), Recency: ptr(700), ReviewScore: ptr(1)}}

		first, err := fitted.Apply(unseen)
		require.NoError(t, err)
		second, err := fitted.Apply(unseen)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("row with a missing field is a schema error", func(t *testing.T) {
		rows := featureRows(5)
		rows[3].ReviewScore = nil

		_, err := FitTransform(rows)

		var schemaErr *internal.SchemaError
		require.True(t, errors.As(err, &schemaErr), "got %v", err)
		assert.Equal(t, "review_score", schemaErr.Field)
	})

	t.Run("row with a NaN field is a schema error", func(t *testing.T) {
		rows := featureRows(5)
		rows[2].Monetary = ptr(math.NaN())

		_, err := FitTransform(rows)

		var schemaErr *internal.SchemaError
		require.True(t, errors.As(err, &schemaErr), "got %v", err)
		assert.Equal(t, "monetary", schemaErr.Field)
	})

	t.Run("empty input is a schema error", func(t *testing.T) {
		_, err := FitTransform(nil)

		var schemaErr *internal.SchemaError
		assert.True(t, errors.As(err, &schemaErr), "got %v", err)
	})
}

func TestYeoJohnson(t *testing.T) {
	t.Run("matches the closed forms", func(t *testing.T) {
		assert.InDelta(t, 0.0, yeoJohnson(0, 0.5), 1e-12)
		assert.InDelta(t, math.Log(2), yeoJohnson(1, 0), 1e-12)
		assert.InDelta(t, -math.Log(2), yeoJohnson(-1, 2), 1e-12)
		assert.InDelta(t, 1.0, yeoJohnson(1, 1), 1e-12)
		assert.InDelta(t, -1.0, yeoJohnson(-1, 1), 1e-12)
	})
}

func TestMinimizeScalar(t *testing.T) {
	t.Run("expands the bracket when the minimum lies outside", func(t *testing.T) {
		x := minimizeScalar(func(x float64) float64 { return (x - 3) * (x - 3) }, -2, 2)

		assert.InDelta(t, 3.0, x, 1e-6)
	})

	t.Run("finds an interior minimum", func(t *testing.T) {
		x := minimizeScalar(func(x float64) float64 { return math.Cosh(x + 0.25) }, -2, 2)

		assert.InDelta(t, -0.25, x, 1e-6)
	})
}

func TestPercentile(t *testing.T) {
	t.Run("interpolates linearly between ranks", func(t *testing.T) {
		sorted := []float64{1, 2, 3, 4}

		assert.InDelta(t, 1.75, percentile(sorted, 25), 1e-12)
		assert.InDelta(t, 2.5, percentile(sorted, 50), 1e-12)
		assert.InDelta(t, 3.25, percentile(sorted, 75), 1e-12)
		assert.Equal(t, 7.0, percentile([]float64{7}, 25))
	})
}

func skewness(values []float64) float64 {
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var m2, m3 float64
	for _, v := range values {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
	}
	n := float64(len(values))
	m2 /= n
	m3 /= n
	return m3 / math.Pow(m2, 1.5)
}
