// Package chain is the go-ethereum boundary: network registry, token
// resolution, amount scaling, contract bindings and signers.
package chain

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

// NetworkInfo is the static deployment record of one network.
type NetworkInfo struct {
	Network domain.Network
	ChainID *big.Int
	// Pool is the Aave V3 Pool proxy.
	Pool common.Address
	// AddressesProvider identifies the market in the data API.
	AddressesProvider common.Address
}

// Registry maps networks to their Aave V3 deployment.
type Registry struct {
	networks map[domain.Network]NetworkInfo
}

// DefaultNetworks lists the supported Aave V3 deployments.
var DefaultNetworks = []NetworkInfo{
	{
		Network:           domain.NetworkEthereum,
		ChainID:           big.NewInt(1),
		Pool:              common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
		AddressesProvider: common.HexToAddress("0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e"),
	},
	{
		Network:           domain.NetworkPolygon,
		ChainID:           big.NewInt(137),
		Pool:              common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"),
		AddressesProvider: common.HexToAddress("0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb"),
	},
	{
		Network:           domain.NetworkBase,
		ChainID:           big.NewInt(8453),
		Pool:              common.HexToAddress("0xA238Dd80C259a72e81d7e4664a9801593F98d1c5"),
		AddressesProvider: common.HexToAddress("0xe20fCBdBfFC4Dd138cE8b2E6FBb6CB49777ad64D"),
	},
}

// NewRegistry builds a registry from infos, or DefaultNetworks when none are given.
func NewRegistry(infos ...NetworkInfo) *Registry {
	if len(infos) == 0 {
		infos = DefaultNetworks
	}

	networks := make(map[domain.Network]NetworkInfo, len(infos))
	for _, info := range infos {
		networks[info.Network] = info
	}

	return &Registry{networks: networks}
}

// Lookup returns the deployment for network or an unsupported-network error.
func (r *Registry) Lookup(network domain.Network) (NetworkInfo, error) {
	info, ok := r.networks[network]
	if !ok {
		return NetworkInfo{}, apperrors.NewUnsupportedNetworkError(string(network))
	}
	return info, nil
}

// Networks returns the registered networks sorted by name.
func (r *Registry) Networks() []domain.Network {
	out := make([]domain.Network, 0, len(r.networks))
	for network := range r.networks {
		out = append(out, network)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
