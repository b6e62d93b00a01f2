package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// PayHook runs inside Treasury.Pay after the funds have moved. A non-nil
// error fails the payment.
type PayHook func(ctx context.Context, to common.Address, amount *big.Int) error

// Treasury is an in-memory wallet book. The marketplace's own holdings are
// tracked separately from party wallets.
type Treasury struct {
	mu       sync.Mutex
	wallets  map[common.Address]*big.Int
	held     *big.Int
	onPay    PayHook
	rejectTo map[common.Address]bool
}

// NewTreasury creates an empty Treasury.
func NewTreasury() *Treasury {
	return &Treasury{
		wallets:  make(map[common.Address]*big.Int),
		held:     new(big.Int),
		rejectTo: make(map[common.Address]bool),
	}
}

// Fund credits a party's wallet.
func (t *Treasury) Fund(party common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.walletLocked(party)
	w.Add(w, amount)
}

// WalletOf returns a copy of a party's wallet balance.
func (t *Treasury) WalletOf(party common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.walletLocked(party))
}

// Held returns a copy of the value the marketplace currently holds.
func (t *Treasury) Held() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.held)
}

// OnPay installs a hook invoked during every Pay. Pass nil to remove it.
func (t *Treasury) OnPay(hook PayHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPay = hook
}

// RejectPayments makes every Pay to party fail, modelling a recipient that
// refuses incoming value.
func (t *Treasury) RejectPayments(party common.Address, reject bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reject {
		t.rejectTo[party] = true
		return
	}
	delete(t.rejectTo, party)
}

// Collect moves amount from the party's wallet into the marketplace.
func (t *Treasury) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.walletLocked(from)
	if w.Cmp(amount) < 0 {
		return fmt.Errorf("sandbox: collect %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	w.Sub(w, amount)
	t.held.Add(t.held, amount)
	return nil
}

// Pay moves amount from the marketplace to the party's wallet. The hook runs
// after the move without the lock held; if it fails the move is undone.
func (t *Treasury) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}

	t.mu.Lock()
	if t.rejectTo[to] {
		t.mu.Unlock()
		return fmt.Errorf("sandbox: pay %s: %w", to.Hex(), domain.ErrTransferFailed)
	}
	if t.held.Cmp(amount) < 0 {
		t.mu.Unlock()
		return fmt.Errorf("sandbox: pay %s: marketplace holds %s: %w", amount, t.held, domain.ErrInsufficientFunds)
	}
	t.held.Sub(t.held, amount)
	w := t.walletLocked(to)
	w.Add(w, amount)
	hook := t.onPay
	t.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, to, amount); err != nil {
		t.mu.Lock()
		w.Sub(w, amount)
		t.held.Add(t.held, amount)
		t.mu.Unlock()
		return errors.Join(domain.ErrTransferFailed, err)
	}
	return nil
}

func (t *Treasury) walletLocked(party common.Address) *big.Int {
	w, ok := t.wallets[party]
	if !ok {
		w = new(big.Int)
		t.wallets[party] = w
	}
	return w
}

var _ domain.Treasury = (*Treasury)(nil)
