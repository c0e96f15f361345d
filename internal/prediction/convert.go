// Package prediction computes the before/after views shown while a user
// enters an amount: USD conversion, projected totals and the bars drawn
// from them.
package prediction

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the precision ConvertCurrency rounds to when callers
// have no preference.
const DefaultDecimals int32 = 6

var (
	ErrInvalidAmount = errors.New("Invalid amount provided")
	ErrInvalidRate   = errors.New("Invalid exchange rate provided")
)

// ConvertCurrency multiplies amount by rate and rounds the product to
// decimals places, half away from zero.
func ConvertCurrency(amount string, rate decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !rate.IsPositive() {
		return decimal.Zero, ErrInvalidRate
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}

	return value.Mul(rate).Round(decimals), nil
}
