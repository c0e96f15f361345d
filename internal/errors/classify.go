package errors

import (
	"context"
	"errors"
	"strings"
)

// walletRejectedCode is the EIP-1193 "user rejected request" code.
const walletRejectedCode = 4001

// codedError matches JSON-RPC errors (go-ethereum rpc.Error) without importing the transport.
type codedError interface {
	ErrorCode() int
}

// Aave V3 pool revert codes (protocol/libraries/helpers/Errors.sol).
var (
	healthFactorCodes = map[string]struct{}{"35": {}, "36": {}}
	noDebtCodes       = map[string]struct{}{"39": {}, "41": {}, "42": {}}
	balanceCodes      = map[string]struct{}{"26": {}, "32": {}, "43": {}}
)

var (
	rejectedMarkers     = []string{"user rejected", "user denied", "rejected by user", "action_rejected", "user cancel", "cancelled by user", "canceled by user"}
	healthFactorMarkers = []string{"health_factor", "health factor"}
	noDebtMarkers       = []string{"no_debt", "no_outstanding", "no debt"}
	balanceMarkers      = []string{"exceeds balance", "not_enough_available_user_balance", "insufficient balance", "underlying_balance_zero"}
	gasFundsMarkers     = []string{"insufficient funds"}
	outOfGasMarkers     = []string{"out of gas", "intrinsic gas too low", "gas required exceeds"}
)

// Classify maps a failure of action into the user-facing taxonomy. AppErrors pass
// through unchanged; anything unmatched becomes a generic transaction failure
// carrying the original reason.
func Classify(action string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransactionError(action, err.Error(), err)
	}

	var coded codedError
	if errors.As(err, &coded) && coded.ErrorCode() == walletRejectedCode {
		return NewUserRejectedError(err)
	}

	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		reason = "Unknown error"
	}
	lower := strings.ToLower(reason)

	switch {
	case containsAny(lower, rejectedMarkers):
		return NewUserRejectedError(err)
	case hasRevertCode(lower, healthFactorCodes) || containsAny(lower, healthFactorMarkers):
		return NewHealthFactorError(err)
	case hasRevertCode(lower, noDebtCodes) || containsAny(lower, noDebtMarkers):
		return NewNoDebtError(err)
	case hasRevertCode(lower, balanceCodes) || containsAny(lower, balanceMarkers):
		return NewInsufficientBalanceError(err)
	case containsAny(lower, gasFundsMarkers):
		return NewInsufficientGasError(err)
	case containsAny(lower, outOfGasMarkers):
		return NewOutOfGasError(err)
	}

	return NewTransactionError(action, reason, err)
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// hasRevertCode extracts the bare revert reason ("35", "execution reverted: 35",
// `execution reverted: "35"`) and checks it against codes.
func hasRevertCode(msg string, codes map[string]struct{}) bool {
	reason := msg
	if idx := strings.LastIndex(reason, "reverted:"); idx >= 0 {
		reason = reason[idx+len("reverted:"):]
	}
	reason = strings.Trim(strings.TrimSpace(reason), `"'`)

	_, ok := codes[reason]
	return ok
}
