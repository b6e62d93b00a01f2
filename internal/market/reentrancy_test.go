package market_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

func TestNestedWithdrawDuringPayIsRejected(t *testing.T) {
	f := newFixture(t)
	f.enable(0)
	item := f.mint(0, alice)
	_, err := f.engine.ListItem(f.ctx, domain.Call{Caller: alice}, item, milliEther(1000))
	require.NoError(t, err)
	require.NoError(t, f.buy(bob, item, milliEther(1000)))

	var nested error
	var seen *big.Int
	f.treasury.OnPay(func(ctx context.Context, to common.Address, amount *big.Int) error {
		seen, _ = f.engine.PendingBalance(ctx, to)
		_, nested = f.engine.Withdraw(ctx, domain.Call{Caller: to})
		return nil
	})

	_, err = f.engine.Withdraw(f.ctx, domain.Call{Caller: alice})
	require.NoError(t, err)
	require.ErrorIs(t, nested, domain.ErrReentrant)
	assert.Equal(t, "reentrant", domain.ErrorCode(nested))

	// Reads during the payment see the last committed state.
	requireBig(t, milliEther(1000), seen)

	// Paid exactly once.
	requireBig(t, milliEther(1000), f.treasury.WalletOf(alice))
	requireBig(t, new(big.Int), f.balance(alice))
	f.requireConserved()
}

func TestNestedCallDuringTransferIsRejected(t *testing.T) {
	f := newFixture(t)
	f.enable(10)
	item := f.mint(0, alice)
	other := f.mint(1, alice)
	_, err := f.engine.ListItem(f.ctx, domain.Call{Caller: alice}, item, milliEther(1000))
	require.NoError(t, err)

	var nested []error
	f.assets.OnTransfer(func(ctx context.Context, _ common.Address, _ *big.Int, from, to common.Address) error {
		_, err := f.engine.Withdraw(ctx, domain.Call{Caller: from})
		nested = append(nested, err)
		_, err = f.engine.ListItem(ctx, domain.Call{Caller: from}, other, big.NewInt(1))
		nested = append(nested, err)
		_, err = f.engine.RevokeListing(ctx, domain.Call{Caller: to}, item)
		nested = append(nested, err)
		return nil
	})

	require.NoError(t, f.buy(bob, item, milliEther(1000)))
	require.Len(t, nested, 3)
	for _, err := range nested {
		require.ErrorIs(t, err, domain.ErrReentrant)
	}

	offer, err := f.engine.Offer(f.ctx, other)
	require.NoError(t, err)
	assert.False(t, offer.ForSale)
	requireBig(t, milliEther(900), f.balance(alice))
	f.requireConserved()
}

func TestFailedPaymentRollsBackWithdraw(t *testing.T) {
	f := newFixture(t)
	f.enable(0)
	item := f.mint(0, alice)
	_, err := f.engine.ListItem(f.ctx, domain.Call{Caller: alice}, item, milliEther(1000))
	require.NoError(t, err)
	require.NoError(t, f.buy(bob, item, milliEther(1000)))

	f.treasury.RejectPayments(alice, true)
	_, err = f.engine.Withdraw(f.ctx, domain.Call{Caller: alice})
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	requireBig(t, milliEther(1000), f.balance(alice))
	requireBig(t, new(big.Int), f.treasury.WalletOf(alice))

	f.treasury.RejectPayments(alice, false)
	_, err = f.engine.Withdraw(f.ctx, domain.Call{Caller: alice})
	require.NoError(t, err)
	requireBig(t, new(big.Int), f.balance(alice))
	requireBig(t, milliEther(1000), f.treasury.WalletOf(alice))
	f.requireConserved()
}

func TestFailedPaymentRollsBackWithdrawBid(t *testing.T) {
	f := newFixture(t)
	f.enable(0)
	item := f.mint(0, alice)
	require.NoError(t, f.bid(bob, item, milliEther(400)))

	f.treasury.OnPay(func(context.Context, common.Address, *big.Int) error {
		return errors.New("recipient refused")
	})
	_, err := f.engine.WithdrawBid(f.ctx, domain.Call{Caller: bob}, item)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	bid, err := f.engine.Bid(f.ctx, item)
	require.NoError(t, err)
	assert.True(t, bid.HasBid)
	assert.Equal(t, bob, bid.Bidder)
	requireBig(t, milliEther(400), bid.Value)
	f.requireConserved()
}

func TestFailedTransferRollsBackSale(t *testing.T) {
	f := newFixture(t)
	f.enable(10)
	item := f.mint(0, alice)
	_, err := f.engine.ListItem(f.ctx, domain.Call{Caller: alice}, item, milliEther(1000))
	require.NoError(t, err)
	require.NoError(t, f.bid(bob, item, milliEther(600)))

	f.assets.OnTransfer(func(context.Context, common.Address, *big.Int, common.Address, common.Address) error {
		return errors.New("receiver rejected token")
	})

	err = f.buy(bob, item, milliEther(1000))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, alice, f.owner(item))

	offer, err := f.engine.Offer(f.ctx, item)
	require.NoError(t, err)
	assert.True(t, offer.ForSale)
	assert.Equal(t, alice, offer.Seller)

	bid, err := f.engine.Bid(f.ctx, item)
	require.NoError(t, err)
	assert.True(t, bid.HasBid)
	requireBig(t, milliEther(600), bid.Value)

	requireBig(t, new(big.Int), f.balance(alice))
	requireBig(t, new(big.Int), f.balance(adminAddr))
	requireBig(t, new(big.Int), f.balance(bob))

	events, err := f.store.List(f.ctx, domain.ListOpts{})
	require.NoError(t, err)
	for _, e := range events {
		assert.NotEqual(t, domain.EventTokenBought, e.Type)
	}

	_, err = f.engine.AcceptBid(f.ctx, domain.Call{Caller: alice}, item, milliEther(600))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	requireBig(t, new(big.Int), f.balance(alice))
	f.requireConserved()
}
