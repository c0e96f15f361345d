package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Proton-105/himera-lend/internal/domain"
)

// canonicalTokens are addresses that win over whatever the market data reports.
var canonicalTokens = map[domain.Network]map[string]string{
	domain.NetworkBase: {
		"USDC": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		"EURC": "0x60a3E35Cc302bFA44Cb288Bc5a4F316Fdb1adb42",
	},
}

// TokenResolver picks the address a transaction is submitted against.
type TokenResolver struct {
	overrides map[domain.Network]map[string]common.Address
}

// NewTokenResolver merges extra (network -> symbol -> address) over the built-in table.
// Invalid addresses in extra are ignored.
func NewTokenResolver(extra map[string]map[string]string) *TokenResolver {
	overrides := make(map[domain.Network]map[string]common.Address)

	add := func(network domain.Network, symbol, address string) {
		if !common.IsHexAddress(address) {
			return
		}
		if overrides[network] == nil {
			overrides[network] = make(map[string]common.Address)
		}
		overrides[network][strings.ToUpper(strings.TrimSpace(symbol))] = common.HexToAddress(address)
	}

	for network, tokens := range canonicalTokens {
		for symbol, address := range tokens {
			add(network, symbol, address)
		}
	}
	for network, tokens := range extra {
		for symbol, address := range tokens {
			add(domain.ParseNetwork(network), symbol, address)
		}
	}

	return &TokenResolver{overrides: overrides}
}

// Resolve returns the canonical address for (network, symbol) when one is known,
// otherwise reported unchanged. An empty symbol yields "".
func (r *TokenResolver) Resolve(network domain.Network, symbol, reported string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ""
	}

	if tokens, ok := r.overrides[network]; ok {
		if address, ok := tokens[symbol]; ok {
			return address.Hex()
		}
	}

	return reported
}
