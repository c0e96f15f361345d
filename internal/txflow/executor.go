package txflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
)

var stateRecorder = func(action, state string) {}

// RegisterStateRecorder allows external packages to observe every emitted state.
func RegisterStateRecorder(recorder func(action, state string)) {
	if recorder == nil {
		stateRecorder = func(string, string) {}
		return
	}

	stateRecorder = recorder
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// SubmitFunc signs and broadcasts a transaction.
type SubmitFunc func(ctx context.Context) (*types.Transaction, error)

// Error is the failure of one executor run. Error() is the best available
// reason; the underlying error stays reachable through Unwrap.
type Error struct {
	Action domain.Action
	Hash   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

var errNoTransaction = errors.New("no transaction returned")

// Executor runs transactions and reports their states.
type Executor struct {
	log *slog.Logger
	now func() time.Time
}

func NewExecutor(log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}

	return &Executor{log: log, now: time.Now}
}

// Run emits WaitingForConfirmation, calls submit, emits Pending once the
// transaction is broadcast, waits for the receipt and emits Finished. Any
// failure, including a mined receipt with failed status, emits Error instead.
// Exactly one of Finished or Error is emitted per call.
func (e *Executor) Run(ctx context.Context, action domain.Action, waiter Waiter, submit SubmitFunc, sink Sink) (*types.Receipt, error) {
	e.Report(sink, action, domain.TxStateWaitingForConfirmation, "waiting for signature", "")

	tx, err := submit(ctx)
	if err == nil && tx == nil {
		err = errNoTransaction
	}
	if err != nil {
		return nil, e.fail(sink, action, "", err)
	}

	hash := tx.Hash().Hex()
	e.Report(sink, action, domain.TxStatePending, "sent, hash="+hash, hash)

	receipt, err := waiter.WaitMined(ctx, tx)
	if err == nil && (receipt == nil || receipt.Status != types.ReceiptStatusSuccessful) {
		err = &chain.RevertError{Hash: tx.Hash()}
	}
	if err != nil {
		return receipt, e.fail(sink, action, hash, err)
	}

	e.Report(sink, action, domain.TxStateFinished, fmt.Sprintf("confirmed in block %d", receipt.BlockNumber.Uint64()), hash)
	return receipt, nil
}

// Report emits a single event outside of Run, e.g. a step that needed no
// transaction.
func (e *Executor) Report(sink Sink, action domain.Action, state domain.TxState, info, hash string) {
	event := Event{
		Action: action,
		State:  state,
		Info:   info,
		Hash:   hash,
		At:     e.now(),
	}

	e.log.Debug("tx state",
		slog.String("action", string(action)),
		slog.String("state", string(state)),
		slog.String("info", info),
	)
	stateRecorder(string(action), string(state))

	if sink != nil {
		sink.Emit(event)
	}
}

func (e *Executor) fail(sink Sink, action domain.Action, hash string, err error) error {
	reason := chain.Reason(err)
	e.Report(sink, action, domain.TxStateError, reason, hash)

	e.log.Warn("transaction failed",
		slog.String("action", string(action)),
		slog.String("hash", hash),
		slog.String("reason", reason),
	)

	return &Error{Action: action, Hash: hash, Reason: reason, Err: err}
}
