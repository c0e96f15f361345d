package prediction

import (
	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-lend/internal/domain"
)

// Operation is the sign applied to a delta.
type Operation string

const (
	OperationAdd      Operation = "add"
	OperationSubtract Operation = "subtract"
)

// Apply returns before plus or minus delta, never below zero.
func (op Operation) Apply(before, delta decimal.Decimal) decimal.Decimal {
	delta = delta.Abs()

	after := before.Add(delta)
	if op == OperationSubtract {
		after = before.Sub(delta)
	}
	if after.IsNegative() {
		return decimal.Zero
	}
	return after
}

// Projection is a total before and after an action.
type Projection struct {
	Operation Operation       `json:"operation"`
	Delta     decimal.Decimal `json:"delta"`
	Before    decimal.Decimal `json:"before"`
	After     decimal.Decimal `json:"after"`
	Bar       Bar             `json:"bar"`
}

// Project applies delta to before with op.
func Project(before, delta decimal.Decimal, op Operation) Projection {
	after := op.Apply(before, delta)
	return Projection{
		Operation: op,
		Delta:     delta.Abs(),
		Before:    before,
		After:     after,
		Bar:       NewBar(before, after),
	}
}

// CollateralOperation maps an action onto the collateral total. Repaying with
// aTokens burns collateral; borrow and wallet repay leave it unchanged.
func CollateralOperation(action domain.Action) (Operation, bool) {
	switch action {
	case domain.ActionSupply:
		return OperationAdd, true
	case domain.ActionWithdraw, domain.ActionRepayWithATokens:
		return OperationSubtract, true
	default:
		return "", false
	}
}

// BorrowOperation maps an action onto the borrowed total.
func BorrowOperation(action domain.Action) (Operation, bool) {
	switch action {
	case domain.ActionBorrow:
		return OperationAdd, true
	case domain.ActionRepay, domain.ActionRepayWithATokens:
		return OperationSubtract, true
	default:
		return "", false
	}
}
