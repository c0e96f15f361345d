package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
)

type positionKey struct {
	network domain.Network
	user    string
}

// Tracker keeps the latest position snapshot per network and user.
type Tracker struct {
	client   *Client
	networks Networks
	maxAge   time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	snapshots map[positionKey]*domain.Positions
}

// NewTracker serves snapshots younger than maxAge from memory.
func NewTracker(client *Client, networks Networks, maxAge time.Duration, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}

	return &Tracker{
		client:    client,
		networks:  networks,
		maxAge:    maxAge,
		log:       log,
		now:       time.Now,
		snapshots: make(map[positionKey]*domain.Positions),
	}
}

// Positions returns the snapshot of user, refreshing a missing or stale one.
func (t *Tracker) Positions(ctx context.Context, network domain.Network, user string) (*domain.Positions, error) {
	key, err := t.key(network, user)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	snapshot, ok := t.snapshots[key]
	t.mu.RUnlock()
	if ok && t.now().Sub(snapshot.FetchedAt) < t.maxAge {
		return snapshot, nil
	}

	return t.Refresh(ctx, network, user)
}

// Refresh re-fetches market state, supplies and borrows of user in parallel.
func (t *Tracker) Refresh(ctx context.Context, network domain.Network, user string) (*domain.Positions, error) {
	key, err := t.key(network, user)
	if err != nil {
		return nil, err
	}
	info, err := t.networks.Lookup(network)
	if err != nil {
		return nil, err
	}
	market := MarketOf(info)

	snapshot := &domain.Positions{Network: network, User: key.user}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		state, err := t.client.UserMarketState(gctx, market, key.user)
		snapshot.State = state
		return err
	})
	g.Go(func() error {
		supplies, err := t.client.UserSupplies(gctx, market, key.user)
		snapshot.Supplies = supplies
		return err
	})
	g.Go(func() error {
		borrows, err := t.client.UserBorrows(gctx, market, key.user)
		snapshot.Borrows = borrows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snapshot.FetchedAt = t.now().UTC()

	t.mu.Lock()
	t.snapshots[key] = snapshot
	t.mu.Unlock()

	t.log.Debug("positions refreshed",
		slog.String("network", network.String()),
		slog.String("user", key.user),
		slog.Int("supplies", len(snapshot.Supplies)),
		slog.Int("borrows", len(snapshot.Borrows)),
	)

	return snapshot, nil
}

// Reserves lists the supply or borrow reserves of a network's market.
func (t *Tracker) Reserves(ctx context.Context, network domain.Network, user string, side Side) ([]domain.Reserve, error) {
	info, err := t.networks.Lookup(network)
	if err != nil {
		return nil, err
	}
	if user != "" {
		if !common.IsHexAddress(user) {
			return nil, apperrors.NewValidationError("Invalid user address")
		}
		user = common.HexToAddress(user).Hex()
	}
	return t.client.Reserves(ctx, MarketOf(info), user, side)
}

// Forget drops the snapshot of user.
func (t *Tracker) Forget(network domain.Network, user string) {
	key, err := t.key(network, user)
	if err != nil {
		return
	}

	t.mu.Lock()
	delete(t.snapshots, key)
	t.mu.Unlock()
}

func (t *Tracker) key(network domain.Network, user string) (positionKey, error) {
	user = strings.TrimSpace(user)
	if !common.IsHexAddress(user) {
		return positionKey{}, apperrors.NewValidationError("Invalid user address")
	}
	return positionKey{network: network, user: common.HexToAddress(user).Hex()}, nil
}
