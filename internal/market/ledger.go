package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Withdraw pays the caller's whole pending balance out. The balance is zeroed
// before the payment is issued; a failed payment rolls the zeroing back.
func (e *Engine) Withdraw(ctx context.Context, call domain.Call) (Receipt, error) {
	return e.execute(ctx, "withdraw", call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}

		amount, err := op.tx.Balance(ctx, op.call.Caller)
		if err != nil {
			return fmt.Errorf("market: %s: load balance: %w", op.name, err)
		}
		if amount.Sign() <= 0 {
			return op.reject(domain.ErrInvalidState, "no pending balance")
		}

		if err := op.tx.PutBalance(ctx, op.call.Caller, new(big.Int)); err != nil {
			return fmt.Errorf("market: %s: store balance: %w", op.name, err)
		}
		op.annotate(amountAttr("amount", amount))
		if err := op.emit(ctx, domain.Event{
			Type:  domain.EventBalanceWithdrawn,
			From:  e.self,
			To:    op.call.Caller,
			Value: amount,
		}); err != nil {
			return err
		}

		if err := e.treasury.Pay(ctx, op.call.Caller, amount); err != nil {
			return fmt.Errorf("market: %s: pay: %w", op.name, err)
		}
		return nil
	})
}

// PendingBalance returns the amount party can withdraw.
func (e *Engine) PendingBalance(ctx context.Context, party common.Address) (*big.Int, error) {
	var out *big.Int
	err := e.read(ctx, func(tx domain.MarketReader) error {
		b, err := tx.Balance(ctx, party)
		out = b
		return err
	})
	return out, err
}
