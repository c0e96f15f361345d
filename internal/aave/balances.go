package aave

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// Balances are the on-chain amounts that bound max withdraw and max repay.
type Balances struct {
	Network  domain.Network `json:"network"`
	User     string         `json:"user"`
	Asset    string         `json:"asset"`
	AToken   string         `json:"aToken"`
	Decimals uint8          `json:"decimals"`
	Wallet   string         `json:"wallet"`
	Supplied string         `json:"supplied"`
}

// Balances reads user's wallet balance of asset and its supplied aToken balance.
func (s *Service) Balances(ctx context.Context, network domain.Network, user, asset, symbol string) (*Balances, error) {
	asset = s.resolveAsset(network, symbol, asset)
	if !isAddress(user) {
		return nil, apperrors.NewValidationError("Invalid user address")
	}
	if !isAddress(asset) {
		return nil, apperrors.NewValidationError("Invalid asset address")
	}

	client, err := s.chains(network)
	if err != nil {
		return nil, err
	}

	owner := common.HexToAddress(user)
	token := common.HexToAddress(asset)

	decimals, err := client.Decimals(ctx, token)
	if err != nil {
		return nil, apperrors.Classify("Balances", err)
	}

	out := &Balances{
		Network:  network,
		User:     owner.Hex(),
		Asset:    token.Hex(),
		Decimals: decimals,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wallet, err := client.BalanceOf(gctx, token, owner)
		if err != nil {
			return err
		}
		out.Wallet = chain.FormatAmount(wallet, decimals)
		return nil
	})
	g.Go(func() error {
		aToken, err := client.ReserveAToken(gctx, token)
		if err != nil {
			return err
		}
		supplied, err := client.BalanceOf(gctx, aToken, owner)
		if err != nil {
			return err
		}
		out.AToken = aToken.Hex()
		out.Supplied = chain.FormatAmount(supplied, decimals)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.Classify("Balances", err)
	}

	return out, nil
}
