package aave

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/inflight"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

type mockChain struct {
	mock.Mock
}

func (m *mockChain) Network() domain.Network { return domain.NetworkBase }

func (m *mockChain) PoolAddress() common.Address { return pool }

func (m *mockChain) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(uint8), args.Error(1)
}

func (m *mockChain) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, owner)
	value, _ := args.Get(0).(*big.Int)
	return value, args.Error(1)
}

func (m *mockChain) ReserveAToken(ctx context.Context, asset common.Address) (common.Address, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(common.Address), args.Error(1)
}

func (m *mockChain) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, owner, spender)
	value, _ := args.Get(0).(*big.Int)
	return value, args.Error(1)
}

func (m *mockChain) Approve(ctx context.Context, signer chain.Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	args := m.Called(ctx, signer, token, spender, amount)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	args := m.Called(ctx, tx)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func (m *mockChain) Supply(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, onBehalfOf common.Address) (*types.Transaction, error) {
	args := m.Called(ctx, signer, asset, amount, onBehalfOf)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockChain) Withdraw(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, to common.Address) (*types.Transaction, error) {
	args := m.Called(ctx, signer, asset, amount, to)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockChain) Borrow(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error) {
	args := m.Called(ctx, signer, asset, amount, mode, onBehalfOf)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockChain) Repay(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error) {
	args := m.Called(ctx, signer, asset, amount, mode, onBehalfOf)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockChain) RepayWithATokens(ctx context.Context, signer chain.Signer, asset common.Address, amount *big.Int, mode int64) (*types.Transaction, error) {
	args := m.Called(ctx, signer, asset, amount, mode)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, network domain.Network, user string) (*domain.Positions, error) {
	f.calls++
	return nil, f.err
}

type memoryHistory struct {
	mu       sync.Mutex
	outcomes []domain.ActionOutcome
}

func (h *memoryHistory) Record(ctx context.Context, outcome domain.ActionOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, outcome)
	return nil
}

var (
	pool  = common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5")
	asset = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSigner(t *testing.T) *chain.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := chain.NewKeySigner(common.Bytes2Hex(crypto.FromECDSA(key)))
	require.NoError(t, err)
	return signer
}

func newTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: nonce, Gas: 100000, GasPrice: big.NewInt(1)})
}

func mined(tx *types.Transaction, block int64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(block),
		GasUsed:     90000,
	}
}

type fixture struct {
	chain    *mockChain
	lookups  int
	service  *Service
	signer   *chain.KeySigner
	recorder *txflow.Recorder
	history  *memoryHistory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		chain:    &mockChain{},
		signer:   newSigner(t),
		recorder: &txflow.Recorder{},
		history:  &memoryHistory{},
	}

	lookup := func(network domain.Network) (Chain, error) {
		f.lookups++
		if network != domain.NetworkBase {
			return nil, apperrors.NewUnsupportedNetworkError(network.String())
		}
		return f.chain, nil
	}

	opts = append([]Option{WithHistory(f.history)}, opts...)
	f.service = NewService(lookup, txflow.NewExecutor(testLogger()), testLogger(), opts...)
	return f
}

func (f *fixture) request(amount string) Request {
	return Request{
		Network:          domain.NetworkBase,
		Signer:           f.signer,
		User:             f.signer.Address().Hex(),
		Asset:            asset.Hex(),
		Symbol:           "WETH",
		Amount:           amount,
		InterestRateMode: domain.InterestRateVariable,
		Sink:             f.recorder,
	}
}

func TestSupply_ApprovesThenSupplies(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	approveTx, supplyTx := newTx(1), newTx(2)
	want := big.NewInt(100000000)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("Allowance", mock.Anything, asset, user, pool).Return(big.NewInt(0), nil)
	f.chain.On("Approve", mock.Anything, mock.Anything, asset, pool, want).Return(approveTx, nil).Once()
	f.chain.On("WaitMined", mock.Anything, approveTx).Return(mined(approveTx, 10), nil)
	f.chain.On("Supply", mock.Anything, mock.Anything, asset, want, user).Return(supplyTx, nil).Once()
	f.chain.On("WaitMined", mock.Anything, supplyTx).Return(mined(supplyTx, 11), nil)

	result, err := f.service.Supply(context.Background(), f.request("100"))
	require.NoError(t, err)

	f.chain.AssertNumberOfCalls(t, "Approve", 1)
	f.chain.AssertNumberOfCalls(t, "Supply", 1)

	assert.Equal(t, supplyTx.Hash().Hex(), result.Hash)
	assert.Equal(t, uint64(11), result.BlockNumber)
	assert.Equal(t, uint64(90000), result.GasUsed)
	assert.Equal(t, "100", result.Amount)
	assert.Equal(t, "100000000", result.BaseAmount)
	assert.Equal(t, domain.ActionSupply, result.Action)

	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStatePending, domain.TxStateFinished,
	}, f.recorder.States(domain.ActionApprove))
	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStatePending, domain.TxStateFinished,
	}, f.recorder.States(domain.ActionSupply))

	require.Len(t, f.history.outcomes, 1)
	assert.Equal(t, domain.OutcomeSuccess, f.history.outcomes[0].Status)
}

func TestSupply_SufficientAllowanceSkipsApprove(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	supplyTx := newTx(2)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(18), nil)
	f.chain.On("Allowance", mock.Anything, asset, user, pool).Return(new(big.Int).Set(chain.MaxUint256), nil)
	f.chain.On("Supply", mock.Anything, mock.Anything, asset, mock.Anything, user).Return(supplyTx, nil)
	f.chain.On("WaitMined", mock.Anything, supplyTx).Return(mined(supplyTx, 5), nil)

	_, err := f.service.Supply(context.Background(), f.request("0.5"))
	require.NoError(t, err)

	f.chain.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []domain.TxState{domain.TxStateFinished}, f.recorder.States(domain.ActionApprove))
}

func TestWithdraw_MaxSubmitsMaxUint256(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	tx := newTx(3)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(18), nil)
	f.chain.On("Withdraw", mock.Anything, mock.Anything, asset, chain.MaxUint256, user).Return(tx, nil).Once()
	f.chain.On("WaitMined", mock.Anything, tx).Return(mined(tx, 20), nil)

	result, err := f.service.Withdraw(context.Background(), f.request("max"))
	require.NoError(t, err)

	assert.Equal(t, chain.MaxUint256.String(), result.BaseAmount)
	assert.Equal(t, "max", result.Amount)
	f.chain.AssertNotCalled(t, "Allowance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.chain.AssertNotCalled(t, "BalanceOf", mock.Anything, mock.Anything, mock.Anything)
}

func TestBorrow_InvalidModeMakesNoCalls(t *testing.T) {
	f := newFixture(t)

	req := f.request("10")
	req.InterestRateMode = 3

	_, err := f.service.Borrow(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "Invalid interestRateMode", err.Error())
	assert.True(t, apperrors.IsValidation(err))

	assert.Zero(t, f.lookups)
	assert.Empty(t, f.chain.Calls)
	assert.Empty(t, f.history.outcomes)
}

func TestRepay_UserRejection(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	approveTx := newTx(1)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("Allowance", mock.Anything, asset, user, pool).Return(big.NewInt(0), nil)
	f.chain.On("Approve", mock.Anything, mock.Anything, asset, pool, big.NewInt(5000000)).Return(approveTx, nil)
	f.chain.On("WaitMined", mock.Anything, approveTx).Return(mined(approveTx, 3), nil)
	f.chain.On("Repay", mock.Anything, mock.Anything, asset, big.NewInt(5000000), int64(2), user).
		Return(nil, &rpcError{code: 4001, msg: "User rejected the request."})

	_, err := f.service.Repay(context.Background(), f.request("5"))
	require.Error(t, err)
	assert.True(t, apperrors.IsUserRejected(err))

	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStateError,
	}, f.recorder.States(domain.ActionRepay))

	for _, event := range f.recorder.Events() {
		if event.Action == domain.ActionRepay {
			assert.NotEqual(t, domain.TxStateFinished, event.State)
		}
	}
	f.chain.AssertNotCalled(t, "WaitMined", mock.Anything, mock.MatchedBy(func(tx *types.Transaction) bool {
		return tx.Hash() != approveTx.Hash()
	}))

	require.Len(t, f.history.outcomes, 1)
	assert.Equal(t, apperrors.CodeUserRejected, f.history.outcomes[0].ErrorCode)
}

func TestRepay_MaxApprovesWalletBalance(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	approveTx, repayTx := newTx(1), newTx(2)
	balance := big.NewInt(123456)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("BalanceOf", mock.Anything, asset, user).Return(balance, nil)
	f.chain.On("Allowance", mock.Anything, asset, user, pool).Return(big.NewInt(0), nil)
	f.chain.On("Approve", mock.Anything, mock.Anything, asset, pool, balance).Return(approveTx, nil).Once()
	f.chain.On("WaitMined", mock.Anything, approveTx).Return(mined(approveTx, 3), nil)
	f.chain.On("Repay", mock.Anything, mock.Anything, asset, chain.MaxUint256, int64(2), user).Return(repayTx, nil)
	f.chain.On("WaitMined", mock.Anything, repayTx).Return(mined(repayTx, 4), nil)

	_, err := f.service.Repay(context.Background(), f.request("MAX"))
	require.NoError(t, err)
	f.chain.AssertNumberOfCalls(t, "Approve", 1)
}

func TestRepay_MaxWithEmptyWallet(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("BalanceOf", mock.Anything, asset, user).Return(big.NewInt(0), nil)

	_, err := f.service.Repay(context.Background(), f.request("max"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientFunds))
	assert.Equal(t, []domain.TxState{domain.TxStateError}, f.recorder.States(domain.ActionRepay))
}

func TestRepayWithATokens_NoApproval(t *testing.T) {
	f := newFixture(t)
	tx := newTx(9)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("RepayWithATokens", mock.Anything, mock.Anything, asset, chain.MaxUint256, int64(1)).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx).Return(mined(tx, 8), nil)

	req := f.request("max")
	req.InterestRateMode = domain.InterestRateStable

	result, err := f.service.RepayWithATokens(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRepayWithATokens, result.Action)
	f.chain.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Request)
		run     func(*Service) func(context.Context, Request) (*domain.TxResult, error)
		wantMsg string
	}{
		{name: "missing signer", mutate: func(r *Request) { r.Signer = nil; r.User = "bad" }, run: supplyFn, wantMsg: "Signer is required"},
		{name: "bad user", mutate: func(r *Request) { r.User = "0x123" }, run: supplyFn, wantMsg: "Invalid user address"},
		{name: "zero user", mutate: func(r *Request) { r.User = common.Address{}.Hex() }, run: supplyFn, wantMsg: "Invalid user address"},
		{name: "bad asset", mutate: func(r *Request) { r.Asset = "usdc" }, run: supplyFn, wantMsg: "Invalid asset address"},
		{name: "zero amount", mutate: func(r *Request) { r.Amount = "0" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "negative amount", mutate: func(r *Request) { r.Amount = "-3" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "garbage amount", mutate: func(r *Request) { r.Amount = "1e" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "max supply", mutate: func(r *Request) { r.Amount = "max" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "max borrow", mutate: func(r *Request) { r.Amount = "max" }, run: borrowFn, wantMsg: "Invalid amount"},
		{name: "amount above uint256", mutate: func(r *Request) { r.Amount = "1e80" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "huge exponent", mutate: func(r *Request) { r.Amount = "1e500000000" }, run: supplyFn, wantMsg: "Invalid amount"},
		{name: "repay mode zero", mutate: func(r *Request) { r.InterestRateMode = 0 }, run: repayFn, wantMsg: "Invalid interestRateMode"},
		{name: "amount checked before mode", mutate: func(r *Request) { r.Amount = ""; r.InterestRateMode = 9 }, run: borrowFn, wantMsg: "Invalid amount"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request("1")
			tc.mutate(&req)

			_, err := tc.run(f.service)(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tc.wantMsg, err.Error())
			assert.True(t, apperrors.IsValidation(err))
			assert.Zero(t, f.lookups)
			assert.Empty(t, f.chain.Calls)

			last, ok := f.recorder.Last()
			require.True(t, ok)
			assert.Equal(t, domain.TxStateError, last.State)
		})
	}
}

func supplyFn(s *Service) func(context.Context, Request) (*domain.TxResult, error) { return s.Supply }
func borrowFn(s *Service) func(context.Context, Request) (*domain.TxResult, error) { return s.Borrow }
func repayFn(s *Service) func(context.Context, Request) (*domain.TxResult, error)  { return s.Repay }

func TestSupply_PrecisionBelowDecimals(t *testing.T) {
	f := newFixture(t)
	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)

	_, err := f.service.Supply(context.Background(), f.request("0.0000001"))
	require.Error(t, err)
	assert.Equal(t, "Invalid amount", err.Error())
}

func TestSupply_BaseUnitsAboveUint256(t *testing.T) {
	f := newFixture(t)
	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(18), nil)

	_, err := f.service.Supply(context.Background(), f.request("1e70"))
	require.Error(t, err)
	assert.Equal(t, "Invalid amount", err.Error())
	f.chain.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.chain.AssertNotCalled(t, "Supply", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInFlightDuplicateRejected(t *testing.T) {
	guard := inflight.NewMemoryGuard()
	f := newFixture(t, WithGuard(guard))

	key := inflight.Key(string(domain.ActionBorrow), "base", strings.ToLower(f.signer.Address().Hex()), strings.ToLower(asset.Hex()))
	release, err := guard.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	_, err = f.service.Borrow(context.Background(), f.request("1"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInProgress))
	assert.Zero(t, f.lookups)
}

func TestUnsupportedNetwork(t *testing.T) {
	f := newFixture(t)
	req := f.request("1")
	req.Network = domain.Network("fantom")

	_, err := f.service.Borrow(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "No Aave V3 pool address found for network: fantom", err.Error())
	assert.Empty(t, f.chain.Calls)
}

func TestBorrow_HealthFactorRevertClassified(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	tx := newTx(4)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(18), nil)
	f.chain.On("Borrow", mock.Anything, mock.Anything, asset, mock.Anything, int64(2), user).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx).Return(&types.Receipt{Status: types.ReceiptStatusFailed}, &chain.RevertError{Reason: "35"})

	_, err := f.service.Borrow(context.Background(), f.request("1"))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeHealthFactor))
	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStatePending, domain.TxStateError,
	}, f.recorder.States(domain.ActionBorrow))
}

func TestRefreshFailureDoesNotFailAction(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("data api down")}
	f := newFixture(t, WithRefresher(refresher))
	user := f.signer.Address()
	tx := newTx(4)

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(18), nil)
	f.chain.On("Borrow", mock.Anything, mock.Anything, asset, mock.Anything, int64(2), user).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx).Return(mined(tx, 2), nil)

	_, err := f.service.Borrow(context.Background(), f.request("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, refresher.calls)
}

func TestSupply_ResolverOverridesAsset(t *testing.T) {
	f := newFixture(t)
	usdc := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	user := f.signer.Address()
	tx := newTx(1)

	f.chain.On("Decimals", mock.Anything, usdc).Return(uint8(6), nil)
	f.chain.On("Allowance", mock.Anything, usdc, user, pool).Return(chain.MaxUint256, nil)
	f.chain.On("Supply", mock.Anything, mock.Anything, usdc, big.NewInt(1000000), user).Return(tx, nil)
	f.chain.On("WaitMined", mock.Anything, tx).Return(mined(tx, 1), nil)

	req := f.request("1")
	req.Symbol = "USDC"
	req.Asset = "0x1111111111111111111111111111111111111111"

	result, err := f.service.Supply(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, usdc.Hex(), result.Asset)
}

func TestBalances(t *testing.T) {
	f := newFixture(t)
	user := f.signer.Address()
	aToken := common.HexToAddress("0x00000000000000000000000000000000000000a7")

	f.chain.On("Decimals", mock.Anything, asset).Return(uint8(6), nil)
	f.chain.On("BalanceOf", mock.Anything, asset, user).Return(big.NewInt(2500000), nil)
	f.chain.On("ReserveAToken", mock.Anything, asset).Return(aToken, nil)
	f.chain.On("BalanceOf", mock.Anything, aToken, user).Return(big.NewInt(1000000), nil)

	balances, err := f.service.Balances(context.Background(), domain.NetworkBase, user.Hex(), asset.Hex(), "WETH")
	require.NoError(t, err)
	assert.Equal(t, "2.5", balances.Wallet)
	assert.Equal(t, "1", balances.Supplied)
	assert.Equal(t, aToken.Hex(), balances.AToken)
}
