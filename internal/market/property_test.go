package market_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
	"github.com/alanyoungcy/tokenmarket/internal/sandbox"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
)

func TestMarketProperties(t *testing.T) {
	rapid.Check(t, rapid.Run(&marketModel{}))
}

var modelParties = []common.Address{alice, bob, carol, dave}

// marketModel drives random operation sequences against the engine and checks
// the ledger invariants after every step.
type marketModel struct {
	ctx      context.Context
	store    *memory.Store
	assets   *sandbox.Registry
	treasury *sandbox.Treasury
	engine   *market.Engine
	items    []domain.Item

	received  *big.Int
	withdrawn map[common.Address]*big.Int
}

func (m *marketModel) Init(t *rapid.T) {
	m.ctx = context.Background()
	m.store = memory.New()
	m.assets = sandbox.NewRegistry()
	m.treasury = sandbox.NewTreasury()
	m.engine = market.NewEngine(m.store, m.assets, m.treasury, marketAddr, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.received = new(big.Int)
	m.withdrawn = make(map[common.Address]*big.Int)
	m.items = nil

	m.assets.SetAdmin(collAddr, adminAddr)
	royalty := rapid.IntRange(0, 100).Draw(t, "royalty").(int)
	_, err := m.engine.ConfigureCollection(m.ctx, domain.Call{Caller: adminAddr}, collAddr, royalty, "")
	require.NoError(t, err)

	for i, owner := range []common.Address{alice, bob, carol} {
		item := domain.NewItem(collAddr, big.NewInt(int64(i)))
		m.assets.Mint(collAddr, item.TokenID, owner)
		m.assets.SetApprovalForAll(collAddr, owner, marketAddr, true)
		m.items = append(m.items, item)
	}
	for _, p := range modelParties {
		m.assets.SetApprovalForAll(collAddr, p, marketAddr, true)
	}
}

func (m *marketModel) drawParty(t *rapid.T) common.Address {
	return modelParties[rapid.IntRange(0, len(modelParties)-1).Draw(t, "party").(int)]
}

func (m *marketModel) drawItem(t *rapid.T) domain.Item {
	return m.items[rapid.IntRange(0, len(m.items)-1).Draw(t, "item").(int)]
}

func (m *marketModel) drawValue(t *rapid.T, label string) *big.Int {
	return big.NewInt(rapid.Int64Range(0, 1000).Draw(t, label).(int64))
}

func (m *marketModel) ownerOf(t *rapid.T, item domain.Item) common.Address {
	owner, err := m.assets.OwnerOf(m.ctx, item.Collection, item.TokenID)
	require.NoError(t, err)
	return owner
}

// payable collects value from caller before fn runs and refunds it if fn
// fails.
func (m *marketModel) payable(t *rapid.T, caller common.Address, value *big.Int, fn func(call domain.Call) error) error {
	m.treasury.Fund(caller, value)
	require.NoError(t, m.treasury.Collect(m.ctx, caller, value))
	if err := fn(domain.Call{Caller: caller, Value: value}); err != nil {
		require.NoError(t, m.treasury.Pay(m.ctx, caller, value))
		return err
	}
	m.received.Add(m.received, value)
	return nil
}

func (m *marketModel) PlaceBid(t *rapid.T) {
	caller, item, value := m.drawParty(t), m.drawItem(t), m.drawValue(t, "bid")
	prev, err := m.engine.Bid(m.ctx, item)
	require.NoError(t, err)
	var displacedBefore *big.Int
	if prev.HasBid {
		displacedBefore, err = m.engine.PendingBalance(m.ctx, prev.Bidder)
		require.NoError(t, err)
	}
	isOwner := m.ownerOf(t, item) == caller

	err = m.payable(t, caller, value, func(call domain.Call) error {
		_, err := m.engine.PlaceBid(m.ctx, call, item)
		return err
	})

	switch {
	case isOwner:
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	case value.Sign() <= 0:
		require.ErrorIs(t, err, domain.ErrInvalidValue)
	case prev.HasBid && value.Cmp(prev.Value) <= 0:
		require.ErrorIs(t, err, domain.ErrInvalidValue)
	default:
		require.NoError(t, err)
		if prev.HasBid {
			after, err := m.engine.PendingBalance(m.ctx, prev.Bidder)
			require.NoError(t, err)
			// Holds when raising one's own bid too: the old value is refunded.
			require.Zero(t, new(big.Int).Add(displacedBefore, prev.Value).Cmp(after))
		}
	}
}

func (m *marketModel) WithdrawBid(t *rapid.T) {
	caller, item := m.drawParty(t), m.drawItem(t)
	before := m.treasury.WalletOf(caller)
	prev, err := m.engine.Bid(m.ctx, item)
	require.NoError(t, err)

	_, err = m.engine.WithdrawBid(m.ctx, domain.Call{Caller: caller}, item)
	if err != nil {
		return
	}
	require.True(t, prev.HasBid)
	require.Equal(t, caller, prev.Bidder)
	require.Zero(t, new(big.Int).Add(before, prev.Value).Cmp(m.treasury.WalletOf(caller)))
	m.addWithdrawn(caller, prev.Value)
}

func (m *marketModel) List(t *rapid.T) {
	caller, item, value := m.drawParty(t), m.drawItem(t), m.drawValue(t, "min")
	_, err := m.engine.ListItem(m.ctx, domain.Call{Caller: caller}, item, value)
	if m.ownerOf(t, item) == caller {
		require.NoError(t, err)
	} else {
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func (m *marketModel) Revoke(t *rapid.T) {
	caller, item := m.drawParty(t), m.drawItem(t)
	_, err := m.engine.RevokeListing(m.ctx, domain.Call{Caller: caller}, item)
	if err == nil {
		offer, err := m.engine.Offer(m.ctx, item)
		require.NoError(t, err)
		require.False(t, offer.ForSale)
	}
}

func (m *marketModel) Buy(t *rapid.T) {
	caller, item, value := m.drawParty(t), m.drawItem(t), m.drawValue(t, "payment")
	_ = m.payable(t, caller, value, func(call domain.Call) error {
		_, err := m.engine.AcceptOffer(m.ctx, call, item)
		return err
	})
}

func (m *marketModel) AcceptBid(t *rapid.T) {
	item := m.drawItem(t)
	owner := m.ownerOf(t, item)
	_, _ = m.engine.AcceptBid(m.ctx, domain.Call{Caller: owner}, item, m.drawValue(t, "floor"))
}

func (m *marketModel) Withdraw(t *rapid.T) {
	caller := m.drawParty(t)
	pending, err := m.engine.PendingBalance(m.ctx, caller)
	require.NoError(t, err)

	_, err = m.engine.Withdraw(m.ctx, domain.Call{Caller: caller})
	if pending.Sign() == 0 {
		require.ErrorIs(t, err, domain.ErrInvalidState)
		return
	}
	require.NoError(t, err)
	after, err := m.engine.PendingBalance(m.ctx, caller)
	require.NoError(t, err)
	require.Zero(t, after.Sign())
	m.addWithdrawn(caller, pending)
}

func (m *marketModel) addWithdrawn(party common.Address, amount *big.Int) {
	w, ok := m.withdrawn[party]
	if !ok {
		w = new(big.Int)
		m.withdrawn[party] = w
	}
	w.Add(w, amount)
}

func (m *marketModel) Check(t *rapid.T) {
	snap := m.store.Snapshot()

	// Everything escrowed is backed by value actually held.
	require.Zero(t, snap.Escrowed().Cmp(m.treasury.Held()))

	// Escrow plus payouts accounts for exactly what was received.
	paid := new(big.Int)
	for _, w := range m.withdrawn {
		paid.Add(paid, w)
	}
	require.Zero(t, new(big.Int).Add(snap.Escrowed(), paid).Cmp(m.received))

	// No owner holds a bid on their own item.
	for _, b := range snap.Bids {
		require.NotEqual(t, m.ownerOf(t, b.Item), b.Bidder)
		require.Positive(t, b.Value.Sign())
	}
	for _, bal := range snap.Balances {
		require.Positive(t, bal.Sign())
	}
}
