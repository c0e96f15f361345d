package prediction

import "github.com/shopspring/decimal"

// HealthLevel buckets a health factor.
type HealthLevel string

const (
	HealthSafe        HealthLevel = "safe"
	HealthMaxRisk     HealthLevel = "max risk"
	HealthLiquidation HealthLevel = "liquidation"
)

// LevelOf buckets hf: above 1 is safe, exactly 1 is max risk and below 1 can
// be liquidated.
func LevelOf(hf decimal.Decimal) HealthLevel {
	switch hf.Cmp(decimal.NewFromInt(1)) {
	case 1:
		return HealthSafe
	case 0:
		return HealthMaxRisk
	default:
		return HealthLiquidation
	}
}

// Risk bar scale.
var (
	RiskScaleMin     = decimal.Zero
	RiskScaleMax     = decimal.NewFromInt(5)
	RiskThreshold    = decimal.RequireFromString("1.5")
	WarningThreshold = decimal.RequireFromString("4.5")
)

// RiskBar places a health factor on the 0..5 scale with the risk and warning
// markers.
type RiskBar struct {
	Value          decimal.Decimal `json:"value"`
	Min            decimal.Decimal `json:"min"`
	Max            decimal.Decimal `json:"max"`
	Percent        decimal.Decimal `json:"percent"`
	RiskPercent    decimal.Decimal `json:"riskPercent"`
	WarningPercent decimal.Decimal `json:"warningPercent"`
	Level          HealthLevel     `json:"level"`
}

// NewRiskBar builds the bar for hf. The marker is clamped to the scale; the
// value keeps what was given.
func NewRiskBar(hf decimal.Decimal) RiskBar {
	span := RiskScaleMax.Sub(RiskScaleMin)
	position := func(v decimal.Decimal) decimal.Decimal {
		return clamp(v, RiskScaleMin, RiskScaleMax).Sub(RiskScaleMin).Div(span).Mul(hundred).Round(2)
	}

	return RiskBar{
		Value:          hf,
		Min:            RiskScaleMin,
		Max:            RiskScaleMax,
		Percent:        position(hf),
		RiskPercent:    position(RiskThreshold),
		WarningPercent: position(WarningThreshold),
		Level:          LevelOf(hf),
	}
}

// DefaultLiquidationThreshold is the loan percentage marked on LoanBars.
var DefaultLiquidationThreshold = decimal.NewFromInt(80)

// LoanBars compares debt against collateral.
type LoanBars struct {
	Collateral           decimal.Decimal `json:"collateral"`
	Loan                 decimal.Decimal `json:"loan"`
	LoanPercent          decimal.Decimal `json:"loanPercent"`
	LiquidationThreshold decimal.Decimal `json:"liquidationThreshold"`
	AboveThreshold       bool            `json:"aboveThreshold"`
}

// NewLoanBars returns loan/collateral as a percentage capped at 100. Without
// collateral the percentage is zero.
func NewLoanBars(collateral, loan decimal.Decimal) LoanBars {
	bars := LoanBars{
		Collateral:           collateral,
		Loan:                 loan,
		LoanPercent:          decimal.Zero,
		LiquidationThreshold: DefaultLiquidationThreshold,
	}
	if collateral.IsPositive() {
		bars.LoanPercent = decimal.Min(loan.Div(collateral).Mul(hundred), hundred).Round(2)
	}
	bars.AboveThreshold = bars.LoanPercent.GreaterThanOrEqual(bars.LiquidationThreshold)
	return bars
}
