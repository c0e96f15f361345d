package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

// poolABIJSON covers the Aave V3 Pool entry points used here. getReserveData
// returns a struct of static fields, declared flattened so it unpacks positionally.
const poolABIJSON = `[
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"onBehalfOf","type":"address"},{"name":"referralCode","type":"uint16"}],"name":"supply","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"to","type":"address"}],"name":"withdraw","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"referralCode","type":"uint16"},{"name":"onBehalfOf","type":"address"}],"name":"borrow","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"},{"name":"onBehalfOf","type":"address"}],"name":"repay","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"interestRateMode","type":"uint256"}],"name":"repayWithATokens","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"asset","type":"address"}],"name":"getReserveData","outputs":[
		{"name":"configuration","type":"uint256"},
		{"name":"liquidityIndex","type":"uint128"},
		{"name":"currentLiquidityRate","type":"uint128"},
		{"name":"variableBorrowIndex","type":"uint128"},
		{"name":"currentVariableBorrowRate","type":"uint128"},
		{"name":"currentStableBorrowRate","type":"uint128"},
		{"name":"lastUpdateTimestamp","type":"uint40"},
		{"name":"id","type":"uint16"},
		{"name":"aTokenAddress","type":"address"},
		{"name":"stableDebtTokenAddress","type":"address"},
		{"name":"variableDebtTokenAddress","type":"address"},
		{"name":"interestRateStrategyAddress","type":"address"},
		{"name":"accruedToTreasury","type":"uint128"},
		{"name":"unbacked","type":"uint128"},
		{"name":"isolationModeTotalDebt","type":"uint128"}
	],"stateMutability":"view","type":"function"}
]`

// referralCode is always zero; Aave has no active referral program.
const referralCode uint16 = 0

var (
	erc20ABI = mustParseABI("erc20", erc20ABIJSON)
	poolABI  = mustParseABI("pool", poolABIJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
