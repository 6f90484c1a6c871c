package internal

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

// Decimal is an exact decimal amount. Money and review means are kept as
// decimals until they enter the feature transform.
type Decimal struct {
	value apd.Decimal
}

func NewDecimal(s string) (Decimal, error) {
	var d apd.Decimal
	_, _, err := d.SetString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal: %w", err)
	}
	// SetString also accepts NaN and Infinity.
	if d.Form != apd.Finite {
		return Decimal{}, fmt.Errorf("invalid decimal %q: must be finite", s)
	}
	return Decimal{value: d}, nil
}

func NewDecimalFromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

func (d Decimal) String() string {
	return d.value.Text('f')
}

func (d Decimal) IsZero() bool {
	return d.value.IsZero()
}

func (d Decimal) IsNegative() bool {
	return d.value.Sign() < 0
}

func (d Decimal) Cmp(other Decimal) int {
	return d.value.Cmp(&other.value)
}

// Float64 returns the nearest float64. Used only at the boundary to the
// numeric feature space.
func (d Decimal) Float64() (float64, error) {
	return d.value.Float64()
}

// Add returns the sum of d and other. Decimals are always finite and far
// from the exponent limits, so the addition cannot trap.
func (d Decimal) Add(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Add(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Div returns the quotient of d divided by other.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.IsZero() {
		return Decimal{}, fmt.Errorf("invalid division of %s: divisor is zero", d)
	}
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(34)
	if _, err := ctx.Quo(&result, &d.value, &other.value); err != nil {
		return Decimal{}, fmt.Errorf("failed to divide %s by %s: %w", d, other, err)
	}
	return Decimal{value: result}, nil
}

// Rounding modes used when collapsing means to one decimal place.
const (
	// RoundHalfEven matches the per-order review collapse.
	RoundHalfEven = apd.RoundHalfEven
	// RoundHalfUp rounds ties away from zero, as SQL ROUND does for the
	// per-customer review mean.
	RoundHalfUp = apd.RoundHalfUp
)

// Round returns d rounded to the given number of decimal places.
func (d Decimal) Round(places int32, mode apd.Rounder) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = mode
	ctx.Quantize(&result, &d.value, -places)
	return Decimal{value: result}
}

// Mean returns the arithmetic mean of values rounded to places decimals.
// Returns false if values is empty.
func Mean(values []Decimal, places int32, mode apd.Rounder) (Decimal, bool) {
	if len(values) == 0 {
		return Decimal{}, false
	}
	sum := values[0]
	for _, v := range values[1:] {
		sum = sum.Add(v)
	}
	// The count is positive here.
	mean, _ := sum.Div(NewDecimalFromInt64(int64(len(values))))
	return mean.Round(places, mode), true
}
