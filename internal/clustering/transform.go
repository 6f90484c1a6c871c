package clustering

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/chrisconley/rfms/internal"
	specs "github.com/chrisconley/rfms/specs"
	"gonum.org/v1/gonum/stat"
)

// FeatureColumns is the column order of every transformed matrix.
var FeatureColumns = []string{"frequency", "monetary", "recency", "review_score"}

// FeatureRow is the raw RFMS vector of one customer. Nil fields are missing.
type FeatureRow struct {
	CustomerUniqueID string
	Recency          *float64
	Frequency        *float64
	Monetary         *float64
	ReviewScore      *float64
}

// NewFeatureRow converts a customer aggregate into a feature row.
func NewFeatureRow(spec specs.CustomerAggregateSpec) (FeatureRow, error) {
	recency := float64(spec.Recency)
	frequency := float64(spec.Frequency)
	row := FeatureRow{
		CustomerUniqueID: spec.CustomerUniqueID,
		Recency:          &recency,
		Frequency:        &frequency,
	}

	if spec.Monetary != nil {
		m, err := parseFeature("monetary", *spec.Monetary)
		if err != nil {
			return FeatureRow{}, err
		}
		row.Monetary = &m
	}
	if spec.ReviewScore != nil {
		s, err := parseFeature("review_score", *spec.ReviewScore)
		if err != nil {
			return FeatureRow{}, err
		}
		row.ReviewScore = &s
	}
	return row, nil
}

// parseFeature parses a decimal feature cell. NaN and infinities are
// rejected: a single one would poison the fitted statistics of its column.
func parseFeature(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &internal.ParseError{Field: field, Value: raw, Err: err}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &internal.ParseError{Field: field, Value: raw, Err: fmt.Errorf("value must be finite")}
	}
	return v, nil
}

// vector returns the row in FeatureColumns order.
func (r FeatureRow) vector(row int) ([]float64, error) {
	fields := []struct {
		name  string
		value *float64
	}{
		{"frequency", r.Frequency},
		{"monetary", r.Monetary},
		{"recency", r.Recency},
		{"review_score", r.ReviewScore},
	}
	v := make([]float64, len(fields))
	for i, f := range fields {
		if f.value == nil {
			return nil, &internal.SchemaError{
				Field:  f.name,
				Reason: fmt.Sprintf("row %d (%s) has no value", row, r.CustomerUniqueID),
			}
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return nil, &internal.SchemaError{
				Field:  f.name,
				Reason: fmt.Sprintf("row %d (%s) is not finite", row, r.CustomerUniqueID),
			}
		}
		v[i] = *f.value
	}
	return v, nil
}

// columnTransform holds the fitted parameters of one feature column.
type columnTransform struct {
	skewed bool

	// Power transform, skewed columns only.
	lambda float64
	mean   float64
	std    float64

	// Robust scaling, every column.
	median float64
	iqr    float64
}

func (c columnTransform) apply(x float64) float64 {
	if c.skewed {
		x = (yeoJohnson(x, c.lambda) - c.mean) / c.std
	}
	return (x - c.median) / c.iqr
}

// FittedTransform is an immutable fitted feature transform.
//
// Frequency and monetary are heavy-tailed: they are Yeo-Johnson transformed
// and standardized, then robust scaled. Recency and review score are robust
// scaled only.
type FittedTransform struct {
	columns [4]columnTransform
}

// FitTransform fits the transform on rows. Every row must carry all four
// features.
func FitTransform(rows []FeatureRow) (FittedTransform, error) {
	if len(rows) == 0 {
		return FittedTransform{}, &internal.SchemaError{Reason: "cannot fit feature transform on empty input"}
	}

	matrix, err := toMatrix(rows)
	if err != nil {
		return FittedTransform{}, err
	}

	var fitted FittedTransform
	for col := range FeatureColumns {
		values := column(matrix, col)
		ct := columnTransform{skewed: col < 2}
		if ct.skewed {
			ct.lambda = fitYeoJohnsonLambda(values)
			for i, v := range values {
				values[i] = yeoJohnson(v, ct.lambda)
			}
			ct.mean, ct.std = stat.PopMeanStdDev(values, nil)
			if ct.std == 0 || math.IsNaN(ct.std) {
				ct.std = 1
			}
			for i, v := range values {
				values[i] = (v - ct.mean) / ct.std
			}
		}

		sort.Float64s(values)
		ct.median = percentile(values, 50)
		ct.iqr = percentile(values, 75) - percentile(values, 25)
		if ct.iqr == 0 {
			ct.iqr = 1
		}
		fitted.columns[col] = ct
	}
	return fitted, nil
}

// Apply transforms rows with the fitted parameters. Rows are returned in
// input order, columns in FeatureColumns order.
func (t FittedTransform) Apply(rows []FeatureRow) ([][]float64, error) {
	matrix, err := toMatrix(rows)
	if err != nil {
		return nil, err
	}
	for _, v := range matrix {
		for col := range v {
			v[col] = t.columns[col].apply(v[col])
		}
	}
	return matrix, nil
}

// Lambda returns the fitted power parameter of a skewed column, or NaN.
func (t FittedTransform) Lambda(column string) float64 {
	for i, name := range FeatureColumns {
		if name == column && t.columns[i].skewed {
			return t.columns[i].lambda
		}
	}
	return math.NaN()
}

func toMatrix(rows []FeatureRow) ([][]float64, error) {
	matrix := make([][]float64, len(rows))
	for i, r := range rows {
		v, err := r.vector(i)
		if err != nil {
			return nil, err
		}
		matrix[i] = v
	}
	return matrix, nil
}

func column(matrix [][]float64, col int) []float64 {
	values := make([]float64, len(matrix))
	for i, row := range matrix {
		values[i] = row[col]
	}
	return values
}

// yeoJohnson applies the Yeo-Johnson power transform with parameter lambda.
func yeoJohnson(x, lambda float64) float64 {
	const eps = 1e-12
	if x >= 0 {
		if math.Abs(lambda) < eps {
			return math.Log1p(x)
		}
		return (math.Pow(x+1, lambda) - 1) / lambda
	}
	if math.Abs(lambda-2) < eps {
		return -math.Log1p(-x)
	}
	return -(math.Pow(1-x, 2-lambda) - 1) / (2 - lambda)
}

// yeoJohnsonNegLogLikelihood is the negative profile log-likelihood of lambda
// under a normal model of the transformed values.
func yeoJohnsonNegLogLikelihood(values []float64, lambda float64) float64 {
	n := float64(len(values))
	transformed := make([]float64, len(values))
	var jacobian float64
	for i, x := range values {
		transformed[i] = yeoJohnson(x, lambda)
		jacobian += math.Copysign(math.Log1p(math.Abs(x)), x)
	}
	_, std := stat.PopMeanStdDev(transformed, nil)
	variance := std * std
	if variance == 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
		return math.Inf(1)
	}
	return n/2*math.Log(variance) - (lambda-1)*jacobian
}

// fitYeoJohnsonLambda returns the maximum likelihood lambda. Constant columns
// have no defined optimum and keep the identity transform.
func fitYeoJohnsonLambda(values []float64) float64 {
	if _, std := stat.PopMeanStdDev(values, nil); std == 0 {
		return 1
	}
	return minimizeScalar(func(lambda float64) float64 {
		return yeoJohnsonNegLogLikelihood(values, lambda)
	}, -2, 2)
}

// minimizeScalar walks downhill from the initial bracket [a, b] until a
// minimum is enclosed, then narrows it by golden-section search.
func minimizeScalar(f func(float64) float64, a, b float64) float64 {
	const (
		growth    = 1.618033988749895
		maxGrow   = 50
		tolerance = 1e-8
		maxIter   = 500
	)

	fa, fb := f(a), f(b)
	if fb > fa {
		a, b = b, a
		fb = fa
	}
	c := b + growth*(b-a)
	fc := f(c)
	for i := 0; i < maxGrow && fc < fb; i++ {
		a = b
		b, fb = c, fc
		c = b + growth*(b-a)
		fc = f(c)
	}

	lo, hi := math.Min(a, c), math.Max(a, c)
	invPhi := 1 / growth
	x1 := hi - invPhi*(hi-lo)
	x2 := lo + invPhi*(hi-lo)
	f1, f2 := f(x1), f(x2)
	for i := 0; i < maxIter && hi-lo > tolerance*(1+math.Abs(x1)+math.Abs(x2)); i++ {
		if f1 < f2 {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - invPhi*(hi-lo)
			f1 = f(x1)
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + invPhi*(hi-lo)
			f2 = f(x2)
		}
	}
	return (lo + hi) / 2
}

// percentile returns the p-th percentile of sorted values with linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
