package market_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
	"github.com/alanyoungcy/tokenmarket/internal/sandbox"
	"github.com/alanyoungcy/tokenmarket/internal/store/memory"
)

var (
	marketAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	collAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	adminAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice      = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol      = common.HexToAddress("0x000000000000000000000000000000000000ca01")
	dave       = common.HexToAddress("0x000000000000000000000000000000000000da7e")
)

// milliEther converts thousandths of an ether to wei.
func milliEther(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	assets   *sandbox.Registry
	treasury *sandbox.Treasury
	engine   *market.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	assets := sandbox.NewRegistry()
	treasury := sandbox.NewTreasury()
	assets.SetAdmin(collAddr, adminAddr)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		assets:   assets,
		treasury: treasury,
		engine:   market.NewEngine(store, assets, treasury, marketAddr, logger),
	}
}

// enable configures collAddr with the given royalty.
func (f *fixture) enable(royalty int) {
	f.t.Helper()
	_, err := f.engine.ConfigureCollection(f.ctx, domain.Call{Caller: adminAddr}, collAddr, royalty, "ipfs://meta")
	require.NoError(f.t, err)
}

// mint creates token id owned by owner with the marketplace approved as
// operator.
func (f *fixture) mint(id int64, owner common.Address) domain.Item {
	f.t.Helper()
	item := domain.NewItem(collAddr, big.NewInt(id))
	f.assets.Mint(collAddr, item.TokenID, owner)
	f.assets.SetApprovalForAll(collAddr, owner, marketAddr, true)
	return item
}

// payable funds caller's wallet, collects value into the marketplace, runs
// fn, and refunds the value if fn fails.
func (f *fixture) payable(caller common.Address, value *big.Int, fn func(call domain.Call) (market.Receipt, error)) (market.Receipt, error) {
	f.t.Helper()
	f.treasury.Fund(caller, value)
	require.NoError(f.t, f.treasury.Collect(f.ctx, caller, value))
	rcpt, err := fn(domain.Call{Caller: caller, Value: value})
	if err != nil {
		require.NoError(f.t, f.treasury.Pay(f.ctx, caller, value))
	}
	return rcpt, err
}

func (f *fixture) bid(caller common.Address, item domain.Item, value *big.Int) error {
	_, err := f.payable(caller, value, func(call domain.Call) (market.Receipt, error) {
		return f.engine.PlaceBid(f.ctx, call, item)
	})
	return err
}

func (f *fixture) buy(caller common.Address, item domain.Item, value *big.Int) error {
	_, err := f.payable(caller, value, func(call domain.Call) (market.Receipt, error) {
		return f.engine.AcceptOffer(f.ctx, call, item)
	})
	return err
}

func (f *fixture) balance(party common.Address) *big.Int {
	f.t.Helper()
	b, err := f.engine.PendingBalance(f.ctx, party)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) owner(item domain.Item) common.Address {
	f.t.Helper()
	o, err := f.assets.OwnerOf(f.ctx, item.Collection, item.TokenID)
	require.NoError(f.t, err)
	return o
}

// requireConserved checks that the marketplace holds exactly what its ledger
// owes.
func (f *fixture) requireConserved() {
	f.t.Helper()
	require.Zero(f.t, f.store.Snapshot().Escrowed().Cmp(f.treasury.Held()),
		"escrowed %s, held %s", f.store.Snapshot().Escrowed(), f.treasury.Held())
}

func requireBig(t *testing.T, want, got *big.Int) {
	t.Helper()
	require.Zerof(t, want.Cmp(got), "want %s, got %s", want, got)
}

func eventTypes(r market.Receipt) []domain.EventType {
	out := make([]domain.EventType, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
