package market_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
)

// countingStore records which kind of transaction the engine opens.
type countingStore struct {
	*memory.Store
	writes atomic.Int32
	reads  atomic.Int32
}

func (s *countingStore) Begin(ctx context.Context) (domain.MarketTx, error) {
	s.writes.Add(1)
	return s.Store.Begin(ctx)
}

func (s *countingStore) BeginRead(ctx context.Context) (domain.ReadTx, error) {
	s.reads.Add(1)
	return s.Store.BeginRead(ctx)
}

func TestGettersUseReadOnlyView(t *testing.T) {
	f := newFixture(t)
	store := &countingStore{Store: f.store}
	f.engine = market.NewEngine(store, f.assets, f.treasury, marketAddr, slog.New(slog.NewTextHandler(io.Discard, nil)))

	f.enable(10)
	item := f.mint(0, alice)
	_, err := f.engine.ListItem(f.ctx, domain.Call{Caller: alice}, item, milliEther(1000))
	require.NoError(t, err)
	require.NoError(t, f.buy(bob, item, milliEther(1000)))
	writes := store.writes.Load()

	var midPay *big.Int
	f.treasury.OnPay(func(ctx context.Context, to common.Address, amount *big.Int) error {
		_, _ = f.engine.Collection(ctx, collAddr)
		_, _ = f.engine.Offer(ctx, item)
		_, _ = f.engine.Bid(ctx, item)
		midPay, _ = f.engine.PendingBalance(ctx, to)
		return nil
	})
	_, err = f.engine.Withdraw(f.ctx, domain.Call{Caller: alice})
	require.NoError(t, err)

	assert.Equal(t, writes+1, store.writes.Load(), "only the withdrawal opens a write transaction")
	assert.GreaterOrEqual(t, store.reads.Load(), int32(4))
	requireBig(t, milliEther(900), midPay)
}
