package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/pkg/config"
)

// Backend is the subset of an Ethereum JSON-RPC client the service needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ClientOptions tunes transaction building and receipt polling.
type ClientOptions struct {
	PollInterval  time.Duration
	GasMultiplier float64
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.GasMultiplier < 1 {
		o.GasMultiplier = 1
	}
	return o
}

// Client binds one network deployment to its RPC backend.
type Client struct {
	info    NetworkInfo
	backend Backend
	opts    ClientOptions
	log     *slog.Logger

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

// NewClient creates a client for info over backend.
func NewClient(info NetworkInfo, backend Backend, opts ClientOptions, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		info:     info,
		backend:  backend,
		opts:     opts.withDefaults(),
		log:      log.With(slog.String("network", info.Network.String())),
		decimals: make(map[common.Address]uint8),
	}
}

// Network returns the network the client is bound to.
func (c *Client) Network() domain.Network {
	return c.info.Network
}

// PoolAddress returns the Aave V3 Pool proxy of the network.
func (c *Client) PoolAddress() common.Address {
	return c.info.Pool
}

// Info returns the static deployment record.
func (c *Client) Info() NetworkInfo {
	return c.info
}

// Ping checks that the RPC endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.backend.HeaderByNumber(ctx, nil)
	return err
}

// Clients holds one Client per configured network.
type Clients struct {
	registry *Registry
	mu       sync.RWMutex
	clients  map[domain.Network]*Client
	closers  []func()
}

// NewClients creates an empty set backed by registry.
func NewClients(registry *Registry) *Clients {
	if registry == nil {
		registry = NewRegistry()
	}

	return &Clients{
		registry: registry,
		clients:  make(map[domain.Network]*Client),
	}
}

// Add registers backend for network. The network must be known to the registry.
func (cs *Clients) Add(network domain.Network, backend Backend, opts ClientOptions, log *slog.Logger) (*Client, error) {
	info, err := cs.registry.Lookup(network)
	if err != nil {
		return nil, err
	}

	client := NewClient(info, backend, opts, log)

	cs.mu.Lock()
	cs.clients[network] = client
	cs.mu.Unlock()

	return client, nil
}

// Client returns the client for network. Unknown or unconfigured networks fail
// with an unsupported-network error.
func (cs *Clients) Client(network domain.Network) (*Client, error) {
	if _, err := cs.registry.Lookup(network); err != nil {
		return nil, err
	}

	cs.mu.RLock()
	client, ok := cs.clients[network]
	cs.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewUnsupportedNetworkError(network.String())
	}

	return client, nil
}

// All returns the configured clients sorted by network.
func (cs *Clients) All() []*Client {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make([]*Client, 0, len(cs.clients))
	for _, client := range cs.clients {
		out = append(out, client)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network() < out[j].Network() })
	return out
}

// Close releases dialed connections.
func (cs *Clients) Close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, closeFn := range cs.closers {
		closeFn()
	}
	cs.closers = nil
}

// DialClients connects every network with an RPC url in cfg. A chain id that
// differs from the registry is a configuration error.
func DialClients(ctx context.Context, registry *Registry, cfg config.ChainConfig, log *slog.Logger) (*Clients, error) {
	if log == nil {
		log = slog.Default()
	}

	clients := NewClients(registry)
	opts := ClientOptions{
		PollInterval:  cfg.ReceiptPollInterval,
		GasMultiplier: cfg.GasLimitMultiplier,
	}

	for name, netCfg := range cfg.Networks {
		if netCfg.RPCURL == "" {
			continue
		}

		network := domain.ParseNetwork(name)
		info, err := clients.registry.Lookup(network)
		if err != nil {
			clients.Close()
			return nil, err
		}

		eth, err := ethclient.DialContext(ctx, netCfg.RPCURL)
		if err != nil {
			clients.Close()
			return nil, fmt.Errorf("dial %s rpc: %w", network, err)
		}
		clients.closers = append(clients.closers, eth.Close)

		chainID, err := eth.ChainID(ctx)
		if err != nil {
			clients.Close()
			return nil, fmt.Errorf("read %s chain id: %w", network, err)
		}
		if chainID.Cmp(info.ChainID) != 0 {
			clients.Close()
			return nil, fmt.Errorf("%s rpc reports chain id %s, expected %s", network, chainID, info.ChainID)
		}

		if _, err := clients.Add(network, eth, opts, log); err != nil {
			clients.Close()
			return nil, err
		}
		log.Info("chain client connected", slog.String("network", network.String()), slog.String("chain_id", chainID.String()))
	}

	return clients, nil
}
