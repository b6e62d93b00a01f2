package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Treasury implements domain.Treasury with an ERC-20 payment token. Callers
// approve the operator account; Collect pulls with transferFrom and Pay
// sends with transfer.
type Treasury struct {
	tx    *Transactor
	token common.Address
}

// NewTreasury creates a Treasury for the given payment token.
func NewTreasury(tx *Transactor, token common.Address) *Treasury {
	return &Treasury{tx: tx, token: token}
}

// Collect pulls amount from the payer into the operator account.
func (t *Treasury) Collect(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if _, err := t.tx.send(ctx, t.token, erc20ABI, "transferFrom", from, t.tx.Address(), amount); err != nil {
		return fmt.Errorf("chain: collect %s from %s: %w", amount, from.Hex(), err)
	}
	return nil
}

// Pay sends amount from the operator account.
func (t *Treasury) Pay(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if _, err := t.tx.send(ctx, t.token, erc20ABI, "transfer", to, amount); err != nil {
		return fmt.Errorf("chain: pay %s to %s: %w", amount, to.Hex(), err)
	}
	return nil
}

// Holdings returns the operator account's token balance.
func (t *Treasury) Holdings(ctx context.Context) (*big.Int, error) {
	out, err := t.tx.call(ctx, t.token, erc20ABI, "balanceOf", t.tx.Address())
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf returned %T", out[0])
	}
	return bal, nil
}

var _ domain.Treasury = (*Treasury)(nil)
