// Package allowance makes sure a spender may move a token before a pool call
// that pulls it.
package allowance

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

// AlreadySufficient is the info of the Approve event emitted when no
// approval transaction was needed.
const AlreadySufficient = "allowance already sufficient"

// Token is the chain surface the manager uses.
type Token interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, signer chain.Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Request describes one allowance check.
type Request struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
	Signer  chain.Signer
	Sink    txflow.Sink
}

type Manager struct {
	executor *txflow.Executor
	log      *slog.Logger
}

func NewManager(executor *txflow.Executor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if executor == nil {
		executor = txflow.NewExecutor(log)
	}

	return &Manager{executor: executor, log: log}
}

// EnsureApproved reads the current allowance and, only when it is below
// req.Amount, approves exactly req.Amount through the executor. It returns the
// approval receipt, or nil when the allowance was already sufficient.
func (m *Manager) EnsureApproved(ctx context.Context, client Token, req Request) (*types.Receipt, error) {
	current, err := client.Allowance(ctx, req.Token, req.Owner, req.Spender)
	if err != nil {
		m.executor.Report(req.Sink, domain.ActionApprove, domain.TxStateError, chain.Reason(err), "")
		return nil, &txflow.Error{Action: domain.ActionApprove, Reason: chain.Reason(err), Err: err}
	}

	if current.Cmp(req.Amount) >= 0 {
		m.log.Debug("allowance sufficient",
			slog.String("token", req.Token.Hex()),
			slog.String("allowance", current.String()),
			slog.String("required", req.Amount.String()),
		)
		m.executor.Report(req.Sink, domain.ActionApprove, domain.TxStateFinished, AlreadySufficient, "")
		return nil, nil
	}

	amount := new(big.Int).Set(req.Amount)
	return m.executor.Run(ctx, domain.ActionApprove, client, func(ctx context.Context) (*types.Transaction, error) {
		return client.Approve(ctx, req.Signer, req.Token, req.Spender, amount)
	}, req.Sink)
}
