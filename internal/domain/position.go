package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PercentValue mirrors the data API's formatted percentage shape.
type PercentValue struct {
	Raw       string          `json:"raw"`
	Decimals  int             `json:"decimals"`
	Value     decimal.Decimal `json:"value"`
	Formatted string          `json:"formatted"`
}

// TokenAmount is a token quantity in both base units and human units.
type TokenAmount struct {
	Raw      string          `json:"raw"`
	Value    decimal.Decimal `json:"value"`
	Decimals int             `json:"decimals"`
}

// Currency describes an ERC-20 token.
type Currency struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	ChainID  int64  `json:"chainId"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// UserMarketState is the account-level position summary.
type UserMarketState struct {
	HealthFactor                decimal.NullDecimal `json:"healthFactor"`
	NetWorth                    decimal.Decimal     `json:"netWorth"`
	TotalCollateralBase         decimal.Decimal     `json:"totalCollateralBase"`
	TotalDebtBase               decimal.Decimal     `json:"totalDebtBase"`
	AvailableBorrowsBase        decimal.Decimal     `json:"availableBorrowsBase"`
	NetAPY                      PercentValue        `json:"netAPY"`
	UserDebtAPY                 PercentValue        `json:"userDebtAPY"`
	LTV                         PercentValue        `json:"ltv"`
	CurrentLiquidationThreshold PercentValue        `json:"currentLiquidationThreshold"`
}

// UserSupply is one supplied reserve of a user.
type UserSupply struct {
	Currency        Currency        `json:"currency"`
	Balance         TokenAmount     `json:"balance"`
	BalanceUSD      decimal.Decimal `json:"balanceUsd"`
	APY             PercentValue    `json:"apy"`
	IsCollateral    bool            `json:"isCollateral"`
	CanBeCollateral bool            `json:"canBeCollateral"`
}

// UserBorrow is one borrowed reserve of a user.
type UserBorrow struct {
	Currency Currency        `json:"currency"`
	Debt     TokenAmount     `json:"debt"`
	DebtUSD  decimal.Decimal `json:"debtUsd"`
	APY      PercentValue    `json:"apy"`
}

// Reserve is a market reserve entry as listed for supply or borrow.
type Reserve struct {
	Underlying         Currency     `json:"underlyingToken"`
	AToken             Currency     `json:"aToken"`
	SupplyAPY          PercentValue `json:"supplyApy"`
	BorrowAPY          PercentValue `json:"borrowApy"`
	CanBeCollateral    bool         `json:"canBeCollateral"`
	AvailableLiquidity TokenAmount  `json:"availableLiquidity"`
	BorrowCap          TokenAmount  `json:"borrowCap"`
	WalletBalance      TokenAmount  `json:"walletBalance"`
}

// ExchangeRate is the USD rate of one token.
type ExchangeRate struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
}

// Positions is the full snapshot of a user on one network.
type Positions struct {
	Network   Network          `json:"network"`
	User      string           `json:"user"`
	State     *UserMarketState `json:"state"`
	Supplies  []UserSupply     `json:"supplies"`
	Borrows   []UserBorrow     `json:"borrows"`
	FetchedAt time.Time        `json:"fetchedAt"`
}
