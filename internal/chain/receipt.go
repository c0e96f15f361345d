package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// WaitMined polls for tx's receipt until it is mined or ctx is done. A receipt
// with a failed status is returned together with a *RevertError.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash())
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, c.revertError(ctx, tx, receipt)
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.log.Debug("receipt poll failed", slog.String("hash", tx.Hash().Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertError replays tx at its block to recover the revert reason.
func (c *Client) revertError(ctx context.Context, tx *types.Transaction, receipt *types.Receipt) error {
	revert := &RevertError{Hash: tx.Hash()}

	from, err := types.Sender(types.LatestSignerForChainID(c.info.ChainID), tx)
	if err != nil {
		return revert
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	if _, callErr := c.backend.CallContract(ctx, msg, receipt.BlockNumber); callErr != nil {
		revert.Reason = revertReason(callErr)
	}

	return revert
}
