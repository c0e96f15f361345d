package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Signer authorizes transactions for one account. SignTx is the point where a
// wallet may ask the user for confirmation and may refuse.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SignerProvider hands out the signer of the connected wallet.
type SignerProvider interface {
	Signer(ctx context.Context) (Signer, error)
}

// StaticSignerProvider always returns the same signer.
type StaticSignerProvider struct {
	signer Signer
}

// NewStaticSignerProvider wraps signer as a provider.
func NewStaticSignerProvider(signer Signer) *StaticSignerProvider {
	return &StaticSignerProvider{signer: signer}
}

// Signer returns the configured signer or an error when none is configured.
func (p *StaticSignerProvider) Signer(ctx context.Context) (Signer, error) {
	if p == nil || p.signer == nil {
		return nil, errors.New("no wallet connected")
	}
	return p.signer, nil
}

// KeySigner signs locally with a private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account address derived from the key.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx signs tx with the latest signer for chainID.
func (s *KeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// RemoteSigner delegates signing to an external wallet over JSON-RPC
// (eth_signTransaction). A user refusing in the wallet surfaces as an rpc.Error
// with code 4001.
type RemoteSigner struct {
	client  *rpc.Client
	address common.Address
}

// DialRemoteSigner connects to the wallet endpoint for address.
func DialRemoteSigner(ctx context.Context, url string, address common.Address) (*RemoteSigner, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial wallet rpc: %w", err)
	}
	return NewRemoteSigner(client, address), nil
}

// NewRemoteSigner builds a signer over an existing rpc client.
func NewRemoteSigner(client *rpc.Client, address common.Address) *RemoteSigner {
	return &RemoteSigner{client: client, address: address}
}

// Address returns the wallet account.
func (s *RemoteSigner) Address() common.Address {
	return s.address
}

type signTxArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

type signTxResult struct {
	Raw hexutil.Bytes `json:"raw"`
}

// SignTx asks the wallet to sign tx and decodes the returned raw transaction.
func (s *RemoteSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	args := signTxArgs{
		From:    s.address,
		To:      tx.To(),
		Gas:     hexutil.Uint64(tx.Gas()),
		Value:   (*hexutil.Big)(tx.Value()),
		Nonce:   hexutil.Uint64(tx.Nonce()),
		Data:    tx.Data(),
		ChainID: (*hexutil.Big)(chainID),
	}
	if tx.Type() == types.DynamicFeeTxType {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	} else {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}

	var result signTxResult
	if err := s.client.CallContext(ctx, &result, "eth_signTransaction", args); err != nil {
		return nil, err
	}

	signed := new(types.Transaction)
	if err := signed.UnmarshalBinary(result.Raw); err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	return signed, nil
}

// Close releases the wallet connection.
func (s *RemoteSigner) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
