// Package aave implements the user-facing lending actions on top of the
// Aave V3 Pool: supply, withdraw, borrow, repay and repay with aTokens.
package aave

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Proton-105/himera-lend/internal/allowance"
	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/inflight"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

// Chain is the per-network surface the services drive.
type Chain interface {
	allowance.Token

	Network() domain.Network
	PoolAddress() common.Address
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	ReserveAToken(ctx context.Context, asset common.Address) (common.Address, error)

	Supply(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, onBehalfOf common.Address) (*types.Transaction, error)
	Withdraw(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, to common.Address) (*types.Transaction, error)
	Borrow(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error)
	Repay(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error)
	RepayWithATokens(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64) (*types.Transaction, error)
}

// ChainLookup returns the chain of a network.
type ChainLookup func(network domain.Network) (Chain, error)

// Refresher reloads a user's positions after a state-changing action.
type Refresher interface {
	Refresh(ctx context.Context, network domain.Network, user string) (*domain.Positions, error)
}

// History stores action outcomes.
type History interface {
	Record(ctx context.Context, outcome domain.ActionOutcome) error
}

// Notifier announces action outcomes.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.ActionOutcome) error
}

var outcomeRecorder = func(action, status, code string, duration time.Duration) {}

// RegisterOutcomeRecorder allows external packages to observe finished actions.
func RegisterOutcomeRecorder(recorder func(action, status, code string, duration time.Duration)) {
	if recorder == nil {
		outcomeRecorder = func(string, string, string, time.Duration) {}
		return
	}

	outcomeRecorder = recorder
}

// Request is the input of every action.
type Request struct {
	Network domain.Network
	Signer  chain.Signer
	User    string
	Asset   string
	// Symbol lets the token resolver override Asset with a canonical address.
	Symbol string
	// Amount is a human decimal string or "max" where supported.
	Amount           string
	InterestRateMode domain.InterestRateMode
	Sink             txflow.Sink
}

type Service struct {
	chains     ChainLookup
	executor   *txflow.Executor
	allowances *allowance.Manager
	resolver   *chain.TokenResolver
	guard      inflight.Guard
	refresher  Refresher
	history    History
	notifier   Notifier
	log        *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithResolver(resolver *chain.TokenResolver) Option {
	return func(s *Service) { s.resolver = resolver }
}

func WithGuard(guard inflight.Guard) Option {
	return func(s *Service) { s.guard = guard }
}

func WithRefresher(refresher Refresher) Option {
	return func(s *Service) { s.refresher = refresher }
}

func WithHistory(history History) Option {
	return func(s *Service) { s.history = history }
}

func WithNotifier(notifier Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

func NewService(chains ChainLookup, executor *txflow.Executor, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if executor == nil {
		executor = txflow.NewExecutor(log)
	}

	s := &Service{
		chains:   chains,
		executor: executor,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.resolver == nil {
		s.resolver = chain.NewTokenResolver(nil)
	}
	if s.guard == nil {
		s.guard = inflight.NewMemoryGuard()
	}
	s.allowances = allowance.NewManager(executor, log)

	return s
}

// Supply deposits Amount of Asset as collateral for User after approving the pool.
func (s *Service) Supply(ctx context.Context, req Request) (*domain.TxResult, error) {
	return s.run(ctx, supplyOp, req)
}

// Withdraw redeems Amount ("max" for everything) of supplied Asset to User.
func (s *Service) Withdraw(ctx context.Context, req Request) (*domain.TxResult, error) {
	return s.run(ctx, withdrawOp, req)
}

// Borrow draws Amount of Asset against User's collateral.
func (s *Service) Borrow(ctx context.Context, req Request) (*domain.TxResult, error) {
	return s.run(ctx, borrowOp, req)
}

// Repay pays back Amount ("max" for the whole debt) from the wallet.
func (s *Service) Repay(ctx context.Context, req Request) (*domain.TxResult, error) {
	return s.run(ctx, repayOp, req)
}

// RepayWithATokens pays back debt by burning the supplied aTokens of the same asset.
func (s *Service) RepayWithATokens(ctx context.Context, req Request) (*domain.TxResult, error) {
	return s.run(ctx, repayWithATokensOp, req)
}

type call struct {
	signer chain.Signer
	user   common.Address
	asset  common.Address
	amount *big.Int
	mode   int64
}

type operation struct {
	action   domain.Action
	allowMax bool
	withMode bool
	approval bool
	submit   func(ctx context.Context, client Chain, c call) (*types.Transaction, error)
}

var (
	supplyOp = operation{
		action:   domain.ActionSupply,
		approval: true,
		submit: func(ctx context.Context, client Chain, c call) (*types.Transaction, error) {
			return client.Supply(ctx, c.signer, c.asset, c.amount, c.user)
		},
	}
	withdrawOp = operation{
		action:   domain.ActionWithdraw,
		allowMax: true,
		submit: func(ctx context.Context, client Chain, c call) (*types.Transaction, error) {
			return client.Withdraw(ctx, c.signer, c.asset, c.amount, c.user)
		},
	}
	borrowOp = operation{
		action:   domain.ActionBorrow,
		withMode: true,
		submit: func(ctx context.Context, client Chain, c call) (*types.Transaction, error) {
			return client.Borrow(ctx, c.signer, c.asset, c.amount, c.mode, c.user)
		},
	}
	repayOp = operation{
		action:   domain.ActionRepay,
		allowMax: true,
		withMode: true,
		approval: true,
		submit: func(ctx context.Context, client Chain, c call) (*types.Transaction, error) {
			return client.Repay(ctx, c.signer, c.asset, c.amount, c.mode, c.user)
		},
	}
	repayWithATokensOp = operation{
		action:   domain.ActionRepayWithATokens,
		allowMax: true,
		withMode: true,
		submit: func(ctx context.Context, client Chain, c call) (*types.Transaction, error) {
			return client.RepayWithATokens(ctx, c.signer, c.asset, c.amount, c.mode)
		},
	}
)

func (s *Service) run(ctx context.Context, op operation, req Request) (result *domain.TxResult, err error) {
	started := s.now()
	req.Asset = s.resolveAsset(req.Network, req.Symbol, req.Asset)

	defer func() {
		if err != nil {
			var runErr *txflow.Error
			if !errors.As(err, &runErr) {
				s.executor.Report(req.Sink, op.action, domain.TxStateError, err.Error(), "")
			}
			err = apperrors.Classify(string(op.action), err)
		}
		s.finish(ctx, op.action, req, result, err, started)
	}()

	c, err := validate(op, req)
	if err != nil {
		return nil, err
	}

	key := inflight.Key(string(op.action), req.Network.String(), strings.ToLower(c.user.Hex()), strings.ToLower(c.asset.Hex()))
	release, err := s.guard.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer release()

	client, err := s.chains(req.Network)
	if err != nil {
		return nil, err
	}

	decimals, err := client.Decimals(ctx, c.asset)
	if err != nil {
		return nil, err
	}

	if chain.IsMax(req.Amount) {
		c.amount = new(big.Int).Set(chain.MaxUint256)
	} else if c.amount, err = chain.ParseAmount(req.Amount, decimals); err != nil {
		return nil, apperrors.NewValidationError("Invalid amount")
	}

	if op.approval {
		if err := s.approve(ctx, client, c, req.Sink); err != nil {
			return nil, err
		}
	}

	receipt, err := s.executor.Run(ctx, op.action, client, func(ctx context.Context) (*types.Transaction, error) {
		return op.submit(ctx, client, c)
	}, req.Sink)
	if err != nil {
		return nil, err
	}

	result = &domain.TxResult{
		Action:      op.action,
		Network:     req.Network,
		Hash:        receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Amount:      displayAmount(req.Amount, c.amount, decimals),
		BaseAmount:  c.amount.String(),
		Symbol:      req.Symbol,
		User:        c.user.Hex(),
		Asset:       c.asset.Hex(),
		ConfirmedAt: s.now().UTC(),
	}

	s.refresh(ctx, req.Network, c.user.Hex())
	return result, nil
}

// approve covers the pool pulling c.amount from the signer. A max repay
// approves the current wallet balance rather than an unlimited allowance.
func (s *Service) approve(ctx context.Context, client Chain, c call, sink txflow.Sink) error {
	owner := c.signer.Address()
	amount := c.amount

	if amount.Cmp(chain.MaxUint256) == 0 {
		balance, err := client.BalanceOf(ctx, c.asset, owner)
		if err != nil {
			return err
		}
		if balance.Sign() <= 0 {
			return apperrors.NewInsufficientBalanceError(nil)
		}
		amount = balance
	}

	_, err := s.allowances.EnsureApproved(ctx, client, allowance.Request{
		Token:   c.asset,
		Owner:   owner,
		Spender: client.PoolAddress(),
		Amount:  amount,
		Signer:  c.signer,
		Sink:    sink,
	})
	return err
}

func (s *Service) refresh(ctx context.Context, network domain.Network, user string) {
	if s.refresher == nil {
		return
	}

	if _, err := s.refresher.Refresh(ctx, network, user); err != nil {
		s.log.Warn("positions refresh failed",
			slog.String("network", network.String()),
			slog.String("user", user),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) finish(ctx context.Context, action domain.Action, req Request, result *domain.TxResult, err error, started time.Time) {
	outcome := domain.ActionOutcome{
		Action:   action,
		Network:  req.Network,
		User:     req.User,
		Asset:    req.Asset,
		Symbol:   req.Symbol,
		Amount:   req.Amount,
		Status:   domain.OutcomeSuccess,
		Duration: s.now().Sub(started),
		At:       s.now().UTC(),
	}
	if result != nil {
		outcome.Hash = result.Hash
		outcome.BlockNumber = result.BlockNumber
		outcome.GasUsed = result.GasUsed
	}
	if err != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.ErrorCode = apperrors.CodeOf(err)
		outcome.ErrorMessage = err.Error()
	}

	outcomeRecorder(string(action), outcome.Status, outcome.ErrorCode, outcome.Duration)

	logAttrs := []slog.Attr{
		slog.String("action", string(action)),
		slog.String("network", req.Network.String()),
		slog.String("user", req.User),
		slog.String("status", outcome.Status),
		slog.Duration("duration", outcome.Duration),
	}
	if err != nil {
		logAttrs = append(logAttrs, slog.String("code", outcome.ErrorCode), slog.String("error", outcome.ErrorMessage))
	}
	s.log.LogAttrs(ctx, slog.LevelInfo, "action finished", logAttrs...)

	// Validation failures never reached the chain and are not history.
	if apperrors.IsValidation(err) || apperrors.HasCode(err, apperrors.CodeInProgress) {
		return
	}

	if s.history != nil {
		if histErr := s.history.Record(ctx, outcome); histErr != nil {
			s.log.Warn("failed to record action history", slog.String("error", histErr.Error()))
		}
	}
	if s.notifier != nil {
		if notifyErr := s.notifier.Notify(ctx, outcome); notifyErr != nil {
			s.log.Warn("failed to send action notification", slog.String("error", notifyErr.Error()))
		}
	}
}

// resolveAsset applies canonical token overrides. Without a symbol the
// caller's address is kept.
func (s *Service) resolveAsset(network domain.Network, symbol, asset string) string {
	if resolved := s.resolver.Resolve(network, symbol, asset); resolved != "" {
		return resolved
	}
	return asset
}

func displayAmount(raw string, base *big.Int, decimals uint8) string {
	if chain.IsMax(raw) {
		return chain.MaxAmount
	}
	return chain.FormatAmount(base, decimals)
}
