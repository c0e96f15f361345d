// Package flows runs server-side lending flows: a typed wizard per session
// whose confirm step submits the action and tracks its transaction status.
package flows

import (
	"strings"

	"github.com/Proton-105/himera-lend/internal/domain"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

// Kind selects the action a flow ends in.
type Kind string

const (
	KindSupply   Kind = "supply"
	KindWithdraw Kind = "withdraw"
	KindBorrow   Kind = "borrow"
	KindRepay    Kind = "repay"
)

// ParseKind normalizes raw and reports whether it names a known kind.
func ParseKind(raw string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch kind {
	case KindSupply, KindWithdraw, KindBorrow, KindRepay:
		return kind, true
	default:
		return "", false
	}
}

// AllowsMax reports whether the kind accepts the "max" amount.
func (k Kind) AllowsMax() bool {
	return k == KindWithdraw || k == KindRepay
}

// RepaySource picks what pays back the debt.
type RepaySource string

const (
	RepayFromWallet     RepaySource = "wallet"
	RepayWithCollateral RepaySource = "collateral"
)

// Valid reports whether s is a known source.
func (s RepaySource) Valid() bool {
	return s == RepayFromWallet || s == RepayWithCollateral
}

// BorrowOptions is the borrow-only part of Data.
type BorrowOptions struct {
	InterestRateMode domain.InterestRateMode `json:"interestRateMode"`
}

// RepayOptions is the repay-only part of Data.
type RepayOptions struct {
	InterestRateMode domain.InterestRateMode `json:"interestRateMode"`
	Source           RepaySource             `json:"source"`
}

// TxStatus mirrors the latest transaction event of the flow.
type TxStatus struct {
	Action   domain.Action  `json:"action"`
	State    domain.TxState `json:"state"`
	Info     string         `json:"info"`
	Hash     string         `json:"hash,omitempty"`
	Progress int            `json:"progress"`
}

func statusFromEvent(event txflow.Event) *TxStatus {
	return &TxStatus{
		Action:   event.Action,
		State:    event.State,
		Info:     event.Info,
		Hash:     event.Hash,
		Progress: event.Progress(),
	}
}

// Data is the record shared by the steps of one flow. Borrow is set only for
// borrow flows and Repay only for repay flows.
type Data struct {
	Kind     Kind             `json:"kind"`
	Network  domain.Network   `json:"network"`
	User     string           `json:"user"`
	Asset    *domain.Reserve  `json:"asset,omitempty"`
	Amount   string           `json:"amount"`
	Borrow   *BorrowOptions   `json:"borrow,omitempty"`
	Repay    *RepayOptions    `json:"repay,omitempty"`
	TxStatus *TxStatus        `json:"txStatus,omitempty"`
	TxResult *domain.TxResult `json:"txResult,omitempty"`
}

// NewData returns the initial record of a flow of kind.
func NewData(kind Kind, network domain.Network, user string) Data {
	data := Data{Kind: kind, Network: network, User: user}

	switch kind {
	case KindBorrow:
		data.Borrow = &BorrowOptions{InterestRateMode: domain.InterestRateVariable}
	case KindRepay:
		data.Repay = &RepayOptions{InterestRateMode: domain.InterestRateVariable, Source: RepayFromWallet}
	}

	return data
}

// clone copies the pointer sections so a reset never shares them with a
// previous session state.
func (d Data) clone() Data {
	if d.Asset != nil {
		asset := *d.Asset
		d.Asset = &asset
	}
	if d.Borrow != nil {
		borrow := *d.Borrow
		d.Borrow = &borrow
	}
	if d.Repay != nil {
		repay := *d.Repay
		d.Repay = &repay
	}
	if d.TxStatus != nil {
		status := *d.TxStatus
		d.TxStatus = &status
	}
	if d.TxResult != nil {
		result := *d.TxResult
		d.TxResult = &result
	}
	return d
}

// InterestRateMode returns the mode of borrow and repay flows, or zero.
func (d Data) InterestRateMode() domain.InterestRateMode {
	switch {
	case d.Borrow != nil:
		return d.Borrow.InterestRateMode
	case d.Repay != nil:
		return d.Repay.InterestRateMode
	default:
		return 0
	}
}

// Patch is a partial update of Data. Nil fields are left alone.
type Patch struct {
	Asset            *domain.Reserve `json:"asset,omitempty"`
	Amount           *string         `json:"amount,omitempty"`
	InterestRateMode *int64          `json:"interestRateMode,omitempty"`
	RepaySource      *string         `json:"repaySource,omitempty"`
}
