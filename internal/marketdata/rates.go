package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// Networks resolves the deployment a network's market lives on.
type Networks interface {
	Lookup(network domain.Network) (chain.NetworkInfo, error)
	Networks() []domain.Network
}

// MarketOf returns the data API market of a deployment.
func MarketOf(info chain.NetworkInfo) Market {
	market := Market{Address: info.AddressesProvider.Hex()}
	if info.ChainID != nil {
		market.ChainID = info.ChainID.Int64()
	}
	return market
}

// Rates serves USD exchange rates from the cache and refills it from the
// data API on a miss.
type Rates struct {
	client   *Client
	cache    *RateCache
	networks Networks
	tokens   map[domain.Network][]string
	log      *slog.Logger
}

// NewRates builds the rate service. tokens lists underlying addresses per
// network; networks without an entry use every supply reserve of the market.
func NewRates(client *Client, cache *RateCache, networks Networks, tokens map[string][]string, log *slog.Logger) *Rates {
	if log == nil {
		log = slog.Default()
	}

	normalized := make(map[domain.Network][]string, len(tokens))
	for network, addresses := range tokens {
		for _, address := range addresses {
			if common.IsHexAddress(address) {
				key := domain.ParseNetwork(network)
				normalized[key] = append(normalized[key], common.HexToAddress(address).Hex())
			}
		}
	}

	return &Rates{client: client, cache: cache, networks: networks, tokens: normalized, log: log}
}

// Rate returns the USD rate of symbol on network.
func (r *Rates) Rate(ctx context.Context, network domain.Network, symbol string) (decimal.Decimal, error) {
	cached, err := r.cache.Get(ctx, network, symbol)
	if err != nil {
		r.log.Warn("rate cache read failed", slog.String("network", network.String()), slog.String("error", err.Error()))
	}
	if cached != nil {
		return cached.Rate, nil
	}

	rates, err := r.Refresh(ctx, network)
	if err != nil {
		return decimal.Zero, err
	}
	for _, rate := range rates {
		if strings.EqualFold(rate.Symbol, strings.TrimSpace(symbol)) {
			return rate.Rate, nil
		}
	}
	return decimal.Zero, apperrors.NewNotFoundError("Exchange rate")
}

// List returns every known rate of network, fetching when the cache is cold.
func (r *Rates) List(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error) {
	if _, err := r.networks.Lookup(network); err != nil {
		return nil, err
	}

	rates, err := r.cache.All(ctx, network)
	if err != nil {
		r.log.Warn("rate cache read failed", slog.String("network", network.String()), slog.String("error", err.Error()))
	}
	if len(rates) > 0 {
		return rates, nil
	}
	return r.Refresh(ctx, network)
}

// Refresh fetches the rates of network and replaces the cached set.
func (r *Rates) Refresh(ctx context.Context, network domain.Network) ([]domain.ExchangeRate, error) {
	info, err := r.networks.Lookup(network)
	if err != nil {
		return nil, err
	}
	market := MarketOf(info)

	tokens := r.tokens[network]
	if len(tokens) == 0 {
		reserves, err := r.client.Reserves(ctx, market, "", SideSupply)
		if err != nil {
			return nil, err
		}
		for _, reserve := range reserves {
			if common.IsHexAddress(reserve.Underlying.Address) {
				tokens = append(tokens, reserve.Underlying.Address)
			}
		}
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	rates, err := r.client.USDExchangeRates(ctx, market, tokens)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, network, rates); err != nil {
		r.log.Warn("rate cache write failed", slog.String("network", network.String()), slog.String("error", err.Error()))
	}

	r.log.Debug("exchange rates refreshed", slog.String("network", network.String()), slog.Int("count", len(rates)))
	return rates, nil
}

// RefreshAll refreshes every registered network and joins their errors.
func (r *Rates) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, network := range r.networks.Networks() {
		if _, err := r.Refresh(ctx, network); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
