package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// PlaceBid escrows the value attached to call as the new highest bid on the
// item. The displaced bidder's value is credited to their pending balance.
func (e *Engine) PlaceBid(ctx context.Context, call domain.Call, item domain.Item) (Receipt, error) {
	return e.execute(ctx, "place_bid", call, func(ctx context.Context, op *operation) error {
		value := new(big.Int).Set(op.call.Amount())
		if _, err := op.enabledCollection(ctx, item.Collection); err != nil {
			return err
		}

		owner, err := op.ownerOf(ctx, item)
		if err != nil {
			return err
		}
		if owner == op.call.Caller {
			return op.reject(domain.ErrUnauthorized, "owner cannot bid on own item")
		}
		if value.Sign() <= 0 {
			return op.reject(domain.ErrInvalidValue, "bid must be greater than zero")
		}

		current, err := op.tx.Bid(ctx, item)
		if err != nil {
			return fmt.Errorf("market: %s: load bid: %w", op.name, err)
		}
		if current.HasBid && value.Cmp(current.Value) <= 0 {
			return op.reject(domain.ErrInvalidValue, "bid must exceed the current bid")
		}
		if current.HasBid {
			if err := op.credit(ctx, current.Bidder, current.Value); err != nil {
				return err
			}
			op.annotate(amountAttr("outbid_refund", current.Value))
		}

		bid := domain.Bid{Item: item, HasBid: true, Bidder: op.call.Caller, Value: value}
		if err := op.tx.PutBid(ctx, bid); err != nil {
			return fmt.Errorf("market: %s: store bid: %w", op.name, err)
		}

		op.annotate(itemAttrs(item)...)
		op.annotate(amountAttr("value", value))
		return op.emit(ctx, domain.Event{
			Type:       domain.EventTokenBidEntered,
			Collection: item.Collection,
			TokenID:    item.TokenID,
			From:       op.call.Caller,
			Value:      value,
		})
	})
}

// WithdrawBid cancels the caller's bid and pays its value straight back to
// the caller.
func (e *Engine) WithdrawBid(ctx context.Context, call domain.Call, item domain.Item) (Receipt, error) {
	return e.execute(ctx, "withdraw_bid", call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}
		if _, err := op.enabledCollection(ctx, item.Collection); err != nil {
			return err
		}

		owner, err := op.ownerOf(ctx, item)
		if err != nil {
			return err
		}
		if owner == op.call.Caller {
			return op.reject(domain.ErrUnauthorized, "owner cannot hold a bid on own item")
		}

		bid, err := op.tx.Bid(ctx, item)
		if err != nil {
			return fmt.Errorf("market: %s: load bid: %w", op.name, err)
		}
		if !bid.HasBid {
			return op.reject(domain.ErrInvalidState, "item has no active bid")
		}
		if bid.Bidder != op.call.Caller {
			return op.reject(domain.ErrUnauthorized, "caller is not the bidder")
		}

		if err := op.tx.PutBid(ctx, domain.NoBid(item)); err != nil {
			return fmt.Errorf("market: %s: store bid: %w", op.name, err)
		}
		op.annotate(itemAttrs(item)...)
		op.annotate(amountAttr("value", bid.Value))
		if err := op.emit(ctx, domain.Event{
			Type:       domain.EventTokenBidWithdrawn,
			Collection: item.Collection,
			TokenID:    item.TokenID,
			From:       op.call.Caller,
			Value:      bid.Value,
		}); err != nil {
			return err
		}

		if err := e.treasury.Pay(ctx, op.call.Caller, bid.Value); err != nil {
			return fmt.Errorf("market: %s: pay bidder: %w", op.name, err)
		}
		return nil
	})
}

// Bid returns the current bid record for an item.
func (e *Engine) Bid(ctx context.Context, item domain.Item) (domain.Bid, error) {
	var out domain.Bid
	err := e.read(ctx, func(tx domain.MarketReader) error {
		b, err := tx.Bid(ctx, item)
		out = b
		return err
	})
	return out, err
}
