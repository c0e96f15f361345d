package domain

import "time"

// Action names a single on-chain step reported to the caller.
type Action string

const (
	ActionSupply           Action = "Supply"
	ActionWithdraw         Action = "Withdraw"
	ActionBorrow           Action = "Borrow"
	ActionRepay            Action = "Repay"
	ActionApprove          Action = "Approve"
	ActionRepayWithATokens Action = "RepayWithATokens"
)

// TxState is the lifecycle state of one transaction.
type TxState string

const (
	TxStateWaitingForConfirmation TxState = "WaitingForConfirmation"
	TxStatePending                TxState = "Pending"
	TxStateFinished               TxState = "Finished"
	TxStateError                  TxState = "Error"
)

// IsTerminal reports whether no further transition may follow s.
func (s TxState) IsTerminal() bool {
	return s == TxStateFinished || s == TxStateError
}

// Progress returns the completion percentage shown for s.
func (s TxState) Progress() int {
	switch s {
	case TxStateWaitingForConfirmation:
		return 25
	case TxStatePending:
		return 50
	case TxStateFinished:
		return 100
	default:
		return 0
	}
}

// InterestRateMode selects the Aave debt type.
type InterestRateMode int64

const (
	InterestRateStable   InterestRateMode = 1
	InterestRateVariable InterestRateMode = 2
)

// Valid reports whether m is one of the supported modes.
func (m InterestRateMode) Valid() bool {
	return m == InterestRateStable || m == InterestRateVariable
}

// TxResult is the immutable record of a completed action.
type TxResult struct {
	Action      Action    `json:"action"`
	Network     Network   `json:"network"`
	Hash        string    `json:"transactionHash"`
	BlockNumber uint64    `json:"blockNumber"`
	GasUsed     uint64    `json:"gasUsed"`
	Amount      string    `json:"amount"`
	BaseAmount  string    `json:"baseAmount"`
	Symbol      string    `json:"symbol"`
	User        string    `json:"user"`
	Asset       string    `json:"asset"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// Outcome statuses of an ActionOutcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// ActionOutcome is the history record of one action attempt, successful or not.
type ActionOutcome struct {
	Action       Action        `json:"action"`
	Network      Network       `json:"network"`
	User         string        `json:"user"`
	Asset        string        `json:"asset"`
	Symbol       string        `json:"symbol"`
	Amount       string        `json:"amount"`
	Status       string        `json:"status"`
	Hash         string        `json:"transactionHash,omitempty"`
	BlockNumber  uint64        `json:"blockNumber,omitempty"`
	GasUsed      uint64        `json:"gasUsed,omitempty"`
	ErrorCode    string        `json:"errorCode,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
	Duration     time.Duration `json:"duration"`
	At           time.Time     `json:"at"`
}
