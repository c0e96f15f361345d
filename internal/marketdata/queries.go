package marketdata

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Proton-105/himera-lend/internal/domain"
)

const percentFields = `raw decimals value formatted`

const userMarketStateQuery = `
query UserMarketState($request: UserMarketStateRequest!) {
  userMarketState(request: $request) {
    healthFactor
    netWorth
    totalCollateralBase
    totalDebtBase
    availableBorrowsBase
    netAPY { ` + percentFields + ` }
    userDebtAPY { ` + percentFields + ` }
    ltv { ` + percentFields + ` }
    currentLiquidationThreshold { ` + percentFields + ` }
  }
}`

const currencyFields = `symbol name imageUrl decimals chainId address`

const userSuppliesQuery = `
query UserSupplies($request: UserSuppliesRequest!) {
  userSupplies(request: $request) {
    currency { ` + currencyFields + ` }
    balance { usd amount { raw value decimals } }
    apy { ` + percentFields + ` }
    isCollateral
    canBeCollateral
  }
}`

const userBorrowsQuery = `
query UserBorrows($request: UserBorrowsRequest!) {
  userBorrows(request: $request) {
    currency { ` + currencyFields + ` }
    debt { usd amount { raw value decimals } }
    apy { ` + percentFields + ` }
  }
}`

const usdExchangeRatesQuery = `
query UsdExchangeRates($request: UsdExchangeRatesRequest!) {
  usdExchangeRates(request: $request) {
    currency { symbol name }
    rate
  }
}`

const marketReservesQuery = `
query Markets($request: MarketsRequest!, $reservesRequest: MarketReservesRequest!) {
  markets(request: $request) {
    address
    chain { chainId }
    reserves(request: $reservesRequest) {
      underlyingToken { ` + currencyFields + ` }
      aToken { ` + currencyFields + ` }
      supplyInfo { apy { ` + percentFields + ` } canBeCollateral }
      borrowInfo {
        apy { ` + percentFields + ` }
        availableLiquidity { amount { raw value decimals } }
        borrowCap { amount { raw value decimals } }
      }
      userState { balance { amount { raw value decimals } } }
    }
  }
}`

// Side selects the reserve list a market query returns.
type Side string

const (
	SideSupply Side = "SUPPLY"
	SideBorrow Side = "BORROW"
)

// ParseSide accepts supply or borrow in any case.
func ParseSide(raw string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideSupply:
		return SideSupply, true
	case SideBorrow:
		return SideBorrow, true
	default:
		return "", false
	}
}

type wireAmount struct {
	Raw      string          `json:"raw"`
	Value    decimal.Decimal `json:"value"`
	Decimals int             `json:"decimals"`
}

func (a wireAmount) domain() domain.TokenAmount {
	return domain.TokenAmount{Raw: a.Raw, Value: a.Value, Decimals: a.Decimals}
}

type wireValue struct {
	USD    decimal.NullDecimal `json:"usd"`
	Amount wireAmount          `json:"amount"`
}

type wireSupply struct {
	Currency        domain.Currency     `json:"currency"`
	Balance         wireValue           `json:"balance"`
	APY             domain.PercentValue `json:"apy"`
	IsCollateral    bool                `json:"isCollateral"`
	CanBeCollateral bool                `json:"canBeCollateral"`
}

type wireBorrow struct {
	Currency domain.Currency     `json:"currency"`
	Debt     wireValue           `json:"debt"`
	APY      domain.PercentValue `json:"apy"`
}

type wireRate struct {
	Currency struct {
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"currency"`
	Rate decimal.Decimal `json:"rate"`
}

type wireReserve struct {
	Underlying domain.Currency `json:"underlyingToken"`
	AToken     domain.Currency `json:"aToken"`
	SupplyInfo *struct {
		APY             domain.PercentValue `json:"apy"`
		CanBeCollateral bool                `json:"canBeCollateral"`
	} `json:"supplyInfo"`
	BorrowInfo *struct {
		APY                domain.PercentValue `json:"apy"`
		AvailableLiquidity wireValue           `json:"availableLiquidity"`
		BorrowCap          wireValue           `json:"borrowCap"`
	} `json:"borrowInfo"`
	UserState *struct {
		Balance wireValue `json:"balance"`
	} `json:"userState"`
}

func (r wireReserve) domain() domain.Reserve {
	out := domain.Reserve{Underlying: r.Underlying, AToken: r.AToken}
	if r.SupplyInfo != nil {
		out.SupplyAPY = r.SupplyInfo.APY
		out.CanBeCollateral = r.SupplyInfo.CanBeCollateral
	}
	if r.BorrowInfo != nil {
		out.BorrowAPY = r.BorrowInfo.APY
		out.AvailableLiquidity = r.BorrowInfo.AvailableLiquidity.Amount.domain()
		out.BorrowCap = r.BorrowInfo.BorrowCap.Amount.domain()
	}
	if r.UserState != nil {
		out.WalletBalance = r.UserState.Balance.Amount.domain()
	}
	return out
}

// UserMarketState returns the account summary of user in market. A user with
// no position yields nil.
func (c *Client) UserMarketState(ctx context.Context, market Market, user string) (*domain.UserMarketState, error) {
	var out struct {
		UserMarketState *domain.UserMarketState `json:"userMarketState"`
	}
	err := c.query(ctx, "userMarketState", userMarketStateQuery, map[string]any{
		"request": map[string]any{"chainId": market.ChainID, "market": market.Address, "user": user},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.UserMarketState, nil
}

// UserSupplies lists the supplied reserves of user, largest balance first.
func (c *Client) UserSupplies(ctx context.Context, market Market, user string) ([]domain.UserSupply, error) {
	var out struct {
		UserSupplies []wireSupply `json:"userSupplies"`
	}
	err := c.query(ctx, "userSupplies", userSuppliesQuery, map[string]any{
		"request": map[string]any{
			"user":    user,
			"markets": []Market{market},
			"orderBy": map[string]string{"balance": "DESC"},
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	supplies := make([]domain.UserSupply, 0, len(out.UserSupplies))
	for _, s := range out.UserSupplies {
		supplies = append(supplies, domain.UserSupply{
			Currency:        s.Currency,
			Balance:         s.Balance.Amount.domain(),
			BalanceUSD:      s.Balance.USD.Decimal,
			APY:             s.APY,
			IsCollateral:    s.IsCollateral,
			CanBeCollateral: s.CanBeCollateral,
		})
	}
	return supplies, nil
}

// UserBorrows lists the debts of user, largest first.
func (c *Client) UserBorrows(ctx context.Context, market Market, user string) ([]domain.UserBorrow, error) {
	var out struct {
		UserBorrows []wireBorrow `json:"userBorrows"`
	}
	err := c.query(ctx, "userBorrows", userBorrowsQuery, map[string]any{
		"request": map[string]any{
			"user":    user,
			"markets": []Market{market},
			"orderBy": map[string]string{"debt": "DESC"},
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	borrows := make([]domain.UserBorrow, 0, len(out.UserBorrows))
	for _, b := range out.UserBorrows {
		borrows = append(borrows, domain.UserBorrow{
			Currency: b.Currency,
			Debt:     b.Debt.Amount.domain(),
			DebtUSD:  b.Debt.USD.Decimal,
			APY:      b.APY,
		})
	}
	return borrows, nil
}

// USDExchangeRates returns the USD rate of each underlying token address.
func (c *Client) USDExchangeRates(ctx context.Context, market Market, tokens []string) ([]domain.ExchangeRate, error) {
	var out struct {
		Rates []wireRate `json:"usdExchangeRates"`
	}
	err := c.query(ctx, "usdExchangeRates", usdExchangeRatesQuery, map[string]any{
		"request": map[string]any{
			"chainId":          market.ChainID,
			"market":           market.Address,
			"underlyingTokens": tokens,
		},
	}, &out)
	if err != nil {
		return nil, err
	}

	rates := make([]domain.ExchangeRate, 0, len(out.Rates))
	for _, r := range out.Rates {
		rates = append(rates, domain.ExchangeRate{Symbol: r.Currency.Symbol, Name: r.Currency.Name, Rate: r.Rate})
	}
	return rates, nil
}

// Reserves lists the supply or borrow reserves of market. When user is set
// the wallet balance of each reserve is filled in.
func (c *Client) Reserves(ctx context.Context, market Market, user string, side Side) ([]domain.Reserve, error) {
	orderBy := map[string]string{"supplyApy": "DESC"}
	if side == SideBorrow {
		orderBy = map[string]string{"borrowApy": "DESC"}
	}

	request := map[string]any{"chainIds": []int64{market.ChainID}}
	if user != "" {
		request["user"] = user
	}

	var out struct {
		Markets []struct {
			Address  string        `json:"address"`
			Reserves []wireReserve `json:"reserves"`
		} `json:"markets"`
	}
	err := c.query(ctx, "markets", marketReservesQuery, map[string]any{
		"request":         request,
		"reservesRequest": map[string]any{"reserveType": string(side), "orderBy": orderBy},
	}, &out)
	if err != nil {
		return nil, err
	}

	var reserves []domain.Reserve
	for _, m := range out.Markets {
		if market.Address != "" && m.Address != "" && !strings.EqualFold(m.Address, market.Address) {
			continue
		}
		for _, r := range m.Reserves {
			reserves = append(reserves, r.domain())
		}
	}
	return reserves, nil
}
