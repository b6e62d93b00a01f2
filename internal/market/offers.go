package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// ListItem offers an item for sale to anyone at minValue or more.
func (e *Engine) ListItem(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int) (Receipt, error) {
	return e.list(ctx, "list_item", call, item, minValue, common.Address{})
}

// ListItemForAddress offers an item for sale to buyer only, at minValue or
// more.
func (e *Engine) ListItemForAddress(ctx context.Context, call domain.Call, item domain.Item, minValue *big.Int, buyer common.Address) (Receipt, error) {
	if buyer == (common.Address{}) {
		return Receipt{}, domain.Reject("list_item_for_address", domain.ErrInvalidValue, "buyer must be set")
	}
	return e.list(ctx, "list_item_for_address", call, item, minValue, buyer)
}

func (e *Engine) list(ctx context.Context, name string, call domain.Call, item domain.Item, minValue *big.Int, buyer common.Address) (Receipt, error) {
	return e.execute(ctx, name, call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}
		if minValue == nil {
			minValue = new(big.Int)
		}
		if minValue.Sign() < 0 {
			return op.reject(domain.ErrInvalidValue, "minimum value must not be negative")
		}
		if _, err := op.enabledCollection(ctx, item.Collection); err != nil {
			return err
		}

		owner, err := op.ownerOf(ctx, item)
		if err != nil {
			return err
		}
		if owner != op.call.Caller {
			return op.reject(domain.ErrUnauthorized, "caller does not own the item")
		}
		if err := op.requireApproval(ctx, item, owner); err != nil {
			return err
		}

		offer := domain.Offer{
			Item:       item,
			ForSale:    true,
			Seller:     op.call.Caller,
			MinValue:   new(big.Int).Set(minValue),
			OnlySellTo: buyer,
		}
		if err := op.tx.PutOffer(ctx, offer); err != nil {
			return fmt.Errorf("market: %s: store offer: %w", op.name, err)
		}

		op.annotate(itemAttrs(item)...)
		op.annotate(amountAttr("min_value", minValue))
		if buyer != (common.Address{}) {
			op.annotate(slog.String("only_sell_to", buyer.Hex()))
		}
		return op.emit(ctx, domain.Event{
			Type:       domain.EventTokenOffered,
			Collection: item.Collection,
			TokenID:    item.TokenID,
			From:       op.call.Caller,
			To:         buyer,
			Value:      offer.MinValue,
		})
	})
}

// RevokeListing withdraws the item from sale. Revoking an item that is not
// listed succeeds and leaves the same cleared record.
func (e *Engine) RevokeListing(ctx context.Context, call domain.Call, item domain.Item) (Receipt, error) {
	return e.execute(ctx, "revoke_listing", call, func(ctx context.Context, op *operation) error {
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
		if owner != op.call.Caller {
			return op.reject(domain.ErrUnauthorized, "caller does not own the item")
		}

		if err := op.tx.PutOffer(ctx, domain.NoOffer(item, op.call.Caller)); err != nil {
			return fmt.Errorf("market: %s: store offer: %w", op.name, err)
		}

		op.annotate(itemAttrs(item)...)
		return op.emit(ctx, domain.Event{
			Type:       domain.EventTokenNoLongerForSale,
			Collection: item.Collection,
			TokenID:    item.TokenID,
			From:       op.call.Caller,
		})
	})
}

// Offer returns the current offer record for an item.
func (e *Engine) Offer(ctx context.Context, item domain.Item) (domain.Offer, error) {
	var out domain.Offer
	err := e.read(ctx, func(tx domain.MarketReader) error {
		o, err := tx.Offer(ctx, item)
		out = o
		return err
	})
	return out, err
}
