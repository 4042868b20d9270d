// Package money holds minor-unit helpers shared by the settlement services.
// Amounts are int64 cents; percentages and display values go through decimal.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FromCents converts minor units into a two-place decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-2)
}

// ToCents rounds a decimal amount half away from zero to whole cents.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Format renders cents with exactly two decimal places.
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// PercentOf returns rate percent of cents, rounded to the nearest cent.
func PercentOf(cents int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(rate).Div(hundred).Round(0).IntPart()
}

// ValidRate reports whether rate is a percentage in [0, 100] with at most two decimals.
func ValidRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return fmt.Errorf("rate must be between 0 and 100")
	}
	if !rate.Equal(rate.Round(2)) {
		return fmt.Errorf("rate supports at most two decimal places")
	}
	return nil
}
