package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/himera-lend/internal/domain"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	id, _ := args.Get(0).(*big.Int)
	return id, args.Error(1)
}

func (m *mockBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func (m *mockBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	price, _ := args.Get(0).(*big.Int)
	return price, args.Error(1)
}

func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	tip, _ := args.Get(0).(*big.Int)
	return tip, args.Error(1)
}

func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	args := m.Called(ctx, number)
	head, _ := args.Get(0).(*types.Header)
	return head, args.Error(1)
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, txHash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

type dataError struct {
	msg  string
	data interface{}
}

func (e *dataError) Error() string          { return e.msg }
func (e *dataError) ErrorData() interface{} { return e.data }

func newTestSigner(t *testing.T) *KeySigner {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signer, err := NewKeySigner(hexutil.Encode(crypto.FromECDSA(key)))
	require.NoError(t, err)
	return signer
}

func newTestClient(t *testing.T, backend Backend) *Client {
	t.Helper()

	info, err := NewRegistry().Lookup(domain.NetworkBase)
	require.NoError(t, err)

	return NewClient(info, backend, ClientOptions{PollInterval: time.Millisecond, GasMultiplier: 1.5}, nil)
}

func revertData(t *testing.T, reason string) string {
	t.Helper()

	stringType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)

	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestClient_SupplyBuildsSignedPoolCall(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	signer := newTestSigner(t)

	asset := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	amount := big.NewInt(100000000)

	backend.On("PendingNonceAt", mock.Anything, signer.Address()).Return(uint64(7), nil)
	backend.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(100000), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{BaseFee: big.NewInt(10)}, nil)
	backend.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(2), nil)

	var sent *types.Transaction
	backend.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*types.Transaction)
	}).Return(nil)

	tx, err := client.Supply(context.Background(), signer, asset, amount, signer.Address())
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, tx.Hash(), sent.Hash())

	assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(150000), tx.Gas())
	assert.Equal(t, int64(22), tx.GasFeeCap().Int64())
	assert.Equal(t, client.PoolAddress(), *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(client.Info().ChainID), tx)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	method, err := poolABI.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "supply", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, asset, args[0])
	assert.Equal(t, 0, amount.Cmp(args[1].(*big.Int)))
	assert.Equal(t, signer.Address(), args[2])
	assert.Equal(t, uint16(0), args[3])
}

func TestClient_LegacyPricingWithoutBaseFee(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	signer := newTestSigner(t)

	backend.On("PendingNonceAt", mock.Anything, signer.Address()).Return(uint64(0), nil)
	backend.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(21000), nil)
	backend.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&types.Header{}, nil)
	backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(5), nil)
	backend.On("SendTransaction", mock.Anything, mock.Anything).Return(nil)

	tx, err := client.Withdraw(context.Background(), signer, common.HexToAddress("0x01"), MaxUint256, signer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
	assert.Equal(t, int64(5), tx.GasPrice().Int64())

	args, err := poolABI.Methods["withdraw"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, 0, MaxUint256.Cmp(args[1].(*big.Int)))
}

func TestClient_EstimateRevertIsReturned(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	signer := newTestSigner(t)

	revert := errors.New("execution reverted: 35")
	backend.On("PendingNonceAt", mock.Anything, signer.Address()).Return(uint64(0), nil)
	backend.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), revert)

	_, err := client.Borrow(context.Background(), signer, common.HexToAddress("0x01"), big.NewInt(1), 2, signer.Address())
	assert.ErrorIs(t, err, revert)
	backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestClient_DecimalsCached(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	token := common.HexToAddress("0x02")

	packed, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)
	backend.On("CallContract", mock.Anything, mock.Anything, (*big.Int)(nil)).Return(packed, nil).Once()

	for i := 0; i < 3; i++ {
		decimals, err := client.Decimals(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), decimals)
	}
	backend.AssertNumberOfCalls(t, "CallContract", 1)
}

func TestClient_AllowanceAndAToken(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	token := common.HexToAddress("0x02")
	aToken := common.HexToAddress("0x4e65fE4DbA92790696d040ac24Aa414708F5c0AB")

	allowanceOut, err := erc20ABI.Methods["allowance"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)

	reserveOut, err := poolABI.Methods["getReserveData"].Outputs.Pack(
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		big.NewInt(0), uint16(1), aToken, common.Address{}, common.Address{}, common.Address{},
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
	)
	require.NoError(t, err)

	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return *msg.To == token
	}), (*big.Int)(nil)).Return(allowanceOut, nil)
	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return *msg.To == client.PoolAddress()
	}), (*big.Int)(nil)).Return(reserveOut, nil)

	allowance, err := client.Allowance(context.Background(), token, common.HexToAddress("0x03"), client.PoolAddress())
	require.NoError(t, err)
	assert.Equal(t, int64(42), allowance.Int64())

	got, err := client.ReserveAToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, aToken, got)
}

func TestClient_WaitMinedPollsUntilReceipt(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})

	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12), GasUsed: 50000}
	backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(nil, ethereum.NotFound).Twice()
	backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(receipt, nil).Once()

	got, err := client.WaitMined(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.BlockNumber.Uint64())
	backend.AssertNumberOfCalls(t, "TransactionReceipt", 3)
}

func TestClient_WaitMinedHonoursContext(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})

	backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(nil, ethereum.NotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.WaitMined(ctx, tx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_WaitMinedFailedStatusReplaysReason(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, backend)
	signer := newTestSigner(t)

	pool := client.PoolAddress()
	unsigned := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1), To: &pool})
	tx, err := signer.SignTx(context.Background(), unsigned, client.Info().ChainID)
	require.NoError(t, err)

	receipt := &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(99)}
	backend.On("TransactionReceipt", mock.Anything, tx.Hash()).Return(receipt, nil)
	backend.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return msg.From == signer.Address()
	}), big.NewInt(99)).Return(nil, &dataError{msg: "execution reverted", data: revertData(t, "36")})

	got, err := client.WaitMined(context.Background(), tx)
	require.Error(t, err)
	assert.Same(t, receipt, got)

	var revert *RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, "36", revert.Reason)
	assert.Equal(t, "execution reverted: 36", err.Error())
}

func TestReason(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want string
	}{
		{name: "decoded revert data", err: &dataError{msg: "execution reverted", data: revertData(t, "HEALTH_FACTOR")}, want: "HEALTH_FACTOR"},
		{name: "undecodable data", err: &dataError{msg: "execution reverted", data: "0xdeadbeef"}, want: "0xdeadbeef"},
		{name: "non string data", err: &dataError{msg: "rpc failure", data: map[string]string{"a": "b"}}, want: "rpc failure"},
		{name: "message", err: errors.New("nonce too low"), want: "nonce too low"},
		{name: "blank message", err: errors.New("  "), want: "Unknown error"},
		{name: "revert error", err: &RevertError{Reason: "39"}, want: "execution reverted: 39"},
		{name: "revert without reason", err: &RevertError{}, want: "execution reverted"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reason(tc.err))
		})
	}
}

func TestClients_UnconfiguredNetwork(t *testing.T) {
	clients := NewClients(NewRegistry())
	backend := &mockBackend{}

	_, err := clients.Add(domain.NetworkBase, backend, ClientOptions{}, nil)
	require.NoError(t, err)

	_, err = clients.Client(domain.NetworkBase)
	require.NoError(t, err)

	_, err = clients.Client(domain.NetworkPolygon)
	assert.EqualError(t, err, "No Aave V3 pool address found for network: polygon")

	_, err = clients.Add(domain.Network("fantom"), backend, ClientOptions{}, nil)
	assert.Error(t, err)
}
