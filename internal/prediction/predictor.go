package prediction

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// RateSource returns the USD rate of a token symbol on a network.
type RateSource interface {
	Rate(ctx context.Context, network domain.Network, symbol string) (decimal.Decimal, error)
}

// PositionSource returns the latest position snapshot of a user.
type PositionSource interface {
	Positions(ctx context.Context, network domain.Network, user string) (*domain.Positions, error)
}

// Input describes the action being previewed.
type Input struct {
	Network domain.Network `json:"network"`
	User    string         `json:"user"`
	Action  domain.Action  `json:"action"`
	Symbol  string         `json:"symbol"`
	Amount  string         `json:"amount"`
}

// Prediction is the full preview of one action.
type Prediction struct {
	Action     domain.Action   `json:"action"`
	Symbol     string          `json:"symbol"`
	Amount     string          `json:"amount"`
	Rate       decimal.Decimal `json:"rate"`
	AmountUSD  decimal.Decimal `json:"amountUsd"`
	Collateral Projection      `json:"collateral"`
	Borrowed   Projection      `json:"borrowed"`
	Loan       LoanBars        `json:"loan"`
	Risk       *RiskBar        `json:"risk,omitempty"`
}

type Predictor struct {
	rates     RateSource
	positions PositionSource
	log       *slog.Logger
}

func NewPredictor(rates RateSource, positions PositionSource, log *slog.Logger) *Predictor {
	if log == nil {
		log = slog.Default()
	}

	return &Predictor{rates: rates, positions: positions, log: log}
}

// Predict converts the amount to USD and projects it onto the user's current
// collateral and debt. The health factor is shown as reported, never
// recomputed.
func (p *Predictor) Predict(ctx context.Context, in Input) (*Prediction, error) {
	collateralOp, hasCollateral := CollateralOperation(in.Action)
	borrowOp, hasBorrow := BorrowOperation(in.Action)
	if !hasCollateral && !hasBorrow {
		return nil, apperrors.NewValidationError("Invalid action")
	}

	rate, err := p.rates.Rate(ctx, in.Network, in.Symbol)
	if err != nil {
		return nil, err
	}
	amountUSD, err := ConvertCurrency(in.Amount, rate, DefaultDecimals)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	positions, err := p.positions.Positions(ctx, in.Network, in.User)
	if err != nil {
		return nil, err
	}

	var netWorth, collateral, debt decimal.Decimal
	var state *domain.UserMarketState
	if positions != nil && positions.State != nil {
		state = positions.State
		netWorth = state.NetWorth
		collateral = state.TotalCollateralBase
		debt = state.TotalDebtBase
	}

	out := &Prediction{
		Action:     in.Action,
		Symbol:     in.Symbol,
		Amount:     in.Amount,
		Rate:       rate,
		AmountUSD:  amountUSD,
		Collateral: Project(netWorth, decimal.Zero, OperationAdd),
		Borrowed:   Project(debt, decimal.Zero, OperationAdd),
	}

	collateralAfter := collateral
	if hasCollateral {
		out.Collateral = Project(netWorth, amountUSD, collateralOp)
		collateralAfter = collateralOp.Apply(collateral, amountUSD)
	}
	if hasBorrow {
		out.Borrowed = Project(debt, amountUSD, borrowOp)
	}
	out.Loan = NewLoanBars(collateralAfter, out.Borrowed.After)

	if state != nil && state.HealthFactor.Valid && !state.HealthFactor.Decimal.IsNegative() {
		risk := NewRiskBar(state.HealthFactor.Decimal)
		out.Risk = &risk
	}

	p.log.Debug("prediction computed",
		slog.String("action", string(in.Action)),
		slog.String("network", in.Network.String()),
		slog.String("amount_usd", amountUSD.String()),
	)

	return out, nil
}
