// Package domain holds the lending domain types shared across the service.
package domain

import "strings"

// Network identifies an EVM network with an Aave V3 deployment.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkPolygon  Network = "polygon"
	NetworkBase     Network = "base"
)

// ParseNetwork normalizes raw into a Network. Unknown names are returned as-is
// and rejected later by the registry.
func ParseNetwork(raw string) Network {
	return Network(strings.ToLower(strings.TrimSpace(raw)))
}

func (n Network) String() string {
	return string(n)
}
