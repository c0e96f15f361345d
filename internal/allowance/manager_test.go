package allowance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

type mockToken struct {
	mock.Mock
}

func (m *mockToken) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	args := m.Called(ctx, token, owner, spender)
	value, _ := args.Get(0).(*big.Int)
	return value, args.Error(1)
}

func (m *mockToken) Approve(ctx context.Context, signer chain.Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	args := m.Called(ctx, signer, token, spender, amount)
	tx, _ := args.Get(0).(*types.Transaction)
	return tx, args.Error(1)
}

func (m *mockToken) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	args := m.Called(ctx, tx)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	token   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	spender = common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5")
)

func newRequest(amount int64, sink txflow.Sink) Request {
	return Request{Token: token, Owner: owner, Spender: spender, Amount: big.NewInt(amount), Sink: sink}
}

func TestEnsureApproved_SufficientSkipsApprove(t *testing.T) {
	testCases := []struct {
		name      string
		allowance int64
		amount    int64
	}{
		{name: "equal", allowance: 100000000, amount: 100000000},
		{name: "greater", allowance: 500000000, amount: 100000000},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			client := &mockToken{}
			client.On("Allowance", mock.Anything, token, owner, spender).Return(big.NewInt(tc.allowance), nil)

			recorder := &txflow.Recorder{}
			manager := NewManager(txflow.NewExecutor(testLogger()), testLogger())

			receipt, err := manager.EnsureApproved(context.Background(), client, newRequest(tc.amount, recorder))
			require.NoError(t, err)
			assert.Nil(t, receipt)

			client.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Equal(t, []domain.TxState{domain.TxStateFinished}, recorder.States(domain.ActionApprove))

			last, _ := recorder.Last()
			assert.Equal(t, AlreadySufficient, last.Info)
		})
	}
}

func TestEnsureApproved_ApprovesExactAmount(t *testing.T) {
	client := &mockToken{}
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 50000, GasPrice: big.NewInt(1)})

	client.On("Allowance", mock.Anything, token, owner, spender).Return(big.NewInt(0), nil)
	client.On("Approve", mock.Anything, mock.Anything, token, spender, big.NewInt(100000000)).Return(tx, nil).Once()
	client.On("WaitMined", mock.Anything, tx).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}, nil)

	recorder := &txflow.Recorder{}
	manager := NewManager(nil, testLogger())

	receipt, err := manager.EnsureApproved(context.Background(), client, newRequest(100000000, recorder))
	require.NoError(t, err)
	require.NotNil(t, receipt)

	client.AssertNumberOfCalls(t, "Approve", 1)
	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStatePending, domain.TxStateFinished,
	}, recorder.States(domain.ActionApprove))
}

func TestEnsureApproved_RejectionPropagates(t *testing.T) {
	client := &mockToken{}
	rejected := errors.New("user rejected transaction")

	client.On("Allowance", mock.Anything, token, owner, spender).Return(big.NewInt(5), nil)
	client.On("Approve", mock.Anything, mock.Anything, token, spender, big.NewInt(10)).Return(nil, rejected)

	recorder := &txflow.Recorder{}
	manager := NewManager(nil, testLogger())

	_, err := manager.EnsureApproved(context.Background(), client, newRequest(10, recorder))
	require.Error(t, err)
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, []domain.TxState{
		domain.TxStateWaitingForConfirmation, domain.TxStateError,
	}, recorder.States(domain.ActionApprove))
	client.AssertNotCalled(t, "WaitMined", mock.Anything, mock.Anything)
}

func TestEnsureApproved_AllowanceReadFailure(t *testing.T) {
	client := &mockToken{}
	client.On("Allowance", mock.Anything, token, owner, spender).Return(nil, errors.New("rpc unavailable"))

	recorder := &txflow.Recorder{}
	manager := NewManager(nil, testLogger())

	_, err := manager.EnsureApproved(context.Background(), client, newRequest(10, recorder))
	require.EqualError(t, err, "rpc unavailable")
	assert.Equal(t, []domain.TxState{domain.TxStateError}, recorder.States(domain.ActionApprove))
}
