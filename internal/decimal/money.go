package decimal

import (
	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

// DefaultTolerance is the rounding tolerance for monetary comparisons,
// in currency units (2 cents).
var DefaultTolerance = decimal.New(2, -2)

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// TaxFromRate computes tax: amount * (ratePercent/100), rounded to cents.
func TaxFromRate(amount, ratePercent decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	return amount.Mul(ratePercent).Div(hundred).Round(2)
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// Within reports whether |a - b| <= DefaultTolerance.
func Within(a, b decimal.Decimal) bool {
	return WithinTolerance(a, b, DefaultTolerance)
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}
