package chain

import (
	"errors"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the sentinel users pass for "entire balance" or "entire debt".
const MaxAmount = "max"

// MaxUint256 is what the pool receives for MaxAmount.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var errInvalidAmount = errors.New("invalid amount")

// IsMax reports whether raw is the full-balance sentinel.
func IsMax(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), MaxAmount)
}

// maxBaseDigits is the number of decimal digits in MaxUint256.
const maxBaseDigits = 78

// ParseAmount converts a human decimal string into base units using decimals.
// Digits beyond decimals are truncated; zero, negative, unparsable and
// values above MaxUint256 fail.
func ParseAmount(raw string, decimals uint8) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !value.IsPositive() {
		return nil, errInvalidAmount
	}

	scale := integerDigits(value) + int64(decimals)
	if value.NumDigits() > 2*maxBaseDigits || scale > maxBaseDigits || scale <= 0 {
		return nil, errInvalidAmount
	}

	base := value.Shift(int32(decimals)).Truncate(0)
	if !base.IsPositive() || base.BigInt().Cmp(MaxUint256) > 0 {
		return nil, errInvalidAmount
	}

	return base.BigInt(), nil
}

// integerDigits returns the digit count left of the decimal point, negative
// when leading fractional zeros follow it.
func integerDigits(value decimal.Decimal) int64 {
	return int64(value.NumDigits()) + int64(value.Exponent())
}

// FormatAmount renders base units as a human decimal string.
func FormatAmount(base *big.Int, decimals uint8) string {
	if base == nil {
		return "0"
	}
	return decimal.NewFromBigInt(base, -int32(decimals)).String()
}

// ValidHumanAmount reports whether raw parses to a positive decimal, without
// knowing token decimals yet.
func ValidHumanAmount(raw string) bool {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !value.IsPositive() || value.NumDigits() > 2*maxBaseDigits {
		return false
	}

	digits := integerDigits(value)
	return digits <= maxBaseDigits && digits+math.MaxUint8 > 0
}
