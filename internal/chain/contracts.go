package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errNoSigner = errors.New("signer is required")

// Decimals reads the token's decimals. Values are cached per token.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	c.mu.RLock()
	cached, ok := c.decimals[token]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	out, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}

	c.mu.Lock()
	c.decimals[token] = decimals
	c.mu.Unlock()

	return decimals, nil
}

// Symbol reads the token's symbol.
func (c *Client) Symbol(ctx context.Context, token common.Address) (string, error) {
	out, err := c.call(ctx, erc20ABI, token, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected type %T", out[0])
	}
	return symbol, nil
}

// BalanceOf reads owner's token balance in base units.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return bigOut("balanceOf", out)
}

// Allowance reads how much spender may move from owner.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := c.call(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigOut("allowance", out)
}

// Approve submits approve(spender, amount) on token.
func (c *Client) Approve(ctx context.Context, signer Signer, token, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return c.transact(ctx, signer, token, data)
}

// Supply submits Pool.supply(asset, amount, onBehalfOf, 0).
func (c *Client) Supply(ctx context.Context, signer Signer, asset common.Address, amount *big.Int, onBehalfOf common.Address) (*types.Transaction, error) {
	return c.poolTx(ctx, signer, "supply", asset, amount, onBehalfOf, referralCode)
}

// Withdraw submits Pool.withdraw(asset, amount, to).
func (c *Client) Withdraw(ctx context.Context, signer Signer, asset common.Address, amount *big.Int, to common.Address) (*types.Transaction, error) {
	return c.poolTx(ctx, signer, "withdraw", asset, amount, to)
}

// Borrow submits Pool.borrow(asset, amount, mode, 0, onBehalfOf).
func (c *Client) Borrow(ctx context.Context, signer Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error) {
	return c.poolTx(ctx, signer, "borrow", asset, amount, big.NewInt(mode), referralCode, onBehalfOf)
}

// Repay submits Pool.repay(asset, amount, mode, onBehalfOf).
func (c *Client) Repay(ctx context.Context, signer Signer, asset common.Address, amount *big.Int, mode int64, onBehalfOf common.Address) (*types.Transaction, error) {
	return c.poolTx(ctx, signer, "repay", asset, amount, big.NewInt(mode), onBehalfOf)
}

// RepayWithATokens submits Pool.repayWithATokens(asset, amount, mode).
func (c *Client) RepayWithATokens(ctx context.Context, signer Signer, asset common.Address, amount *big.Int, mode int64) (*types.Transaction, error) {
	return c.poolTx(ctx, signer, "repayWithATokens", asset, amount, big.NewInt(mode))
}

// ReserveAToken returns the aToken that represents supplied asset.
func (c *Client) ReserveAToken(ctx context.Context, asset common.Address) (common.Address, error) {
	out, err := c.call(ctx, poolABI, c.info.Pool, "getReserveData", asset)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 9 {
		return common.Address{}, fmt.Errorf("getReserveData: got %d outputs", len(out))
	}
	aToken, ok := out[8].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getReserveData: unexpected aToken type %T", out[8])
	}
	return aToken, nil
}

func (c *Client) poolTx(ctx context.Context, signer Signer, method string, args ...interface{}) (*types.Transaction, error) {
	data, err := poolABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return c.transact(ctx, signer, c.info.Pool, data)
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func bigOut(method string, out []interface{}) (*big.Int, error) {
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected type %T", method, out[0])
	}
	return value, nil
}

// transact estimates gas, prices the transaction (EIP-1559 when the chain has
// a base fee), has signer sign it and broadcasts it. Signer errors are returned
// unwrapped so wallet error codes stay visible.
func (c *Client) transact(ctx context.Context, signer Signer, to common.Address, data []byte) (*types.Transaction, error) {
	if signer == nil {
		return nil, errNoSigner
	}
	from := signer.Address()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, err
	}
	gas = uint64(float64(gas) * c.opts.GasMultiplier)

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.info.ChainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		})
	} else {
		price, err := c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		})
	}

	signed, err := signer.SignTx(ctx, tx, c.info.ChainID)
	if err != nil {
		return nil, err
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	c.log.Debug("transaction sent",
		slog.String("hash", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)

	return signed, nil
}
