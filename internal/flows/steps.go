package flows

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Proton-105/himera-lend/internal/chain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/wizard"
)

// Step indices shared by every kind.
const (
	StepSelectAsset = 0
	StepAmount      = 1
	StepConfirm     = 2
)

var stepTitles = map[Kind][3]string{
	KindSupply:   {"Select asset to supply", "Amount to supply", "Confirm supply"},
	KindWithdraw: {"Select asset to withdraw", "Amount to withdraw", "Confirm withdrawal"},
	KindBorrow:   {"Select asset to borrow", "Amount to borrow", "Confirm borrow"},
	KindRepay:    {"Select debt to repay", "Amount to repay", "Confirm repayment"},
}

func stepsFor(kind Kind) []wizard.Step[Data] {
	titles := stepTitles[kind]

	return []wizard.Step[Data]{
		{
			ID:             "select-asset",
			Title:          titles[0],
			HideBackButton: true,
			Validate:       validateAsset,
		},
		{
			ID:       "amount",
			Title:    titles[1],
			Validate: validateAmount,
		},
		{
			ID:             "confirm",
			Title:          titles[2],
			Description:    "Review and sign the transaction in your wallet",
			HideBackButton: true,
			Validate:       validateSettled,
		},
	}
}

func validateAsset(d Data) error {
	if d.Asset == nil || !common.IsHexAddress(d.Asset.Underlying.Address) {
		return apperrors.NewValidationError("Select an asset")
	}
	return nil
}

func validateAmount(d Data) error {
	if chain.IsMax(d.Amount) {
		if d.Kind.AllowsMax() {
			return nil
		}
		return apperrors.NewValidationError("Invalid amount")
	}
	if !chain.ValidHumanAmount(d.Amount) {
		return apperrors.NewValidationError("Invalid amount")
	}
	return nil
}

// validateSettled keeps the flow open while its transaction is running.
func validateSettled(d Data) error {
	if d.TxStatus != nil && !d.TxStatus.State.IsTerminal() {
		return apperrors.NewStateError("Transaction still in progress")
	}
	return nil
}
