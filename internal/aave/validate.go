package aave

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Proton-105/himera-lend/internal/chain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// validate checks req without touching the network. The order of checks is
// fixed: signer, user, asset, amount, interest rate mode.
func validate(op operation, req Request) (call, error) {
	if req.Signer == nil {
		return call{}, apperrors.NewValidationError("Signer is required")
	}

	if !isAddress(req.User) {
		return call{}, apperrors.NewValidationError("Invalid user address")
	}
	if !isAddress(req.Asset) {
		return call{}, apperrors.NewValidationError("Invalid asset address")
	}

	switch {
	case chain.IsMax(req.Amount):
		if !op.allowMax {
			return call{}, apperrors.NewValidationError("Invalid amount")
		}
	case !chain.ValidHumanAmount(req.Amount):
		return call{}, apperrors.NewValidationError("Invalid amount")
	}

	if op.withMode && !req.InterestRateMode.Valid() {
		return call{}, apperrors.NewValidationError("Invalid interestRateMode")
	}

	return call{
		signer: req.Signer,
		user:   common.HexToAddress(req.User),
		asset:  common.HexToAddress(req.Asset),
		mode:   int64(req.InterestRateMode),
	}, nil
}

func isAddress(raw string) bool {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return false
	}
	return common.HexToAddress(raw) != (common.Address{})
}
