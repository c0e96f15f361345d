package prediction

import "github.com/shopspring/decimal"

// Direction tells how a projected value moved.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionEqual Direction = "equal"
)

var hundred = decimal.NewFromInt(100)

// Bar is a before/after progress bar. Percentages are relative to Max.
type Bar struct {
	Before      decimal.Decimal `json:"before"`
	After       decimal.Decimal `json:"after"`
	Max         decimal.Decimal `json:"max"`
	OldPercent  decimal.Decimal `json:"oldPercent"`
	NewPercent  decimal.Decimal `json:"newPercent"`
	DiffPercent decimal.Decimal `json:"diffPercent"`
	Difference  decimal.Decimal `json:"difference"`
	Direction   Direction       `json:"direction"`
}

// NewBar builds a bar scaled to the larger of before and after.
func NewBar(before, after decimal.Decimal) Bar {
	return NewBarWithMax(before, after, decimal.Max(before, after))
}

// NewBarWithMax builds a bar on a fixed scale. A non-positive max yields
// zero percentages.
func NewBarWithMax(before, after, max decimal.Decimal) Bar {
	diff := after.Sub(before)

	bar := Bar{
		Before:      before,
		After:       after,
		Max:         max,
		Difference:  diff,
		OldPercent:  decimal.Zero,
		NewPercent:  decimal.Zero,
		DiffPercent: decimal.Zero,
		Direction:   DirectionEqual,
	}
	switch diff.Sign() {
	case 1:
		bar.Direction = DirectionUp
	case -1:
		bar.Direction = DirectionDown
	}

	if !max.IsPositive() {
		return bar
	}

	bar.OldPercent = percentOf(clamp(before, decimal.Zero, max), max)
	bar.NewPercent = percentOf(clamp(after, decimal.Zero, max), max)
	bar.DiffPercent = percentOf(diff.Abs(), max)
	return bar
}

func percentOf(value, max decimal.Decimal) decimal.Decimal {
	return value.Div(max).Mul(hundred).Round(2)
}

func clamp(value, lo, hi decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(value, lo), hi)
}
