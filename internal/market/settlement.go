package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// AcceptOffer buys a listed item with the value attached to call. The seller
// and the collection owner are credited through the pending-balance ledger;
// if the buyer also held the top bid on the item, that bid is released to the
// buyer's pending balance.
func (e *Engine) AcceptOffer(ctx context.Context, call domain.Call, item domain.Item) (Receipt, error) {
	return e.execute(ctx, "accept_offer", call, func(ctx context.Context, op *operation) error {
		value := new(big.Int).Set(op.call.Amount())
		buyer := op.call.Caller

		collection, err := op.enabledCollection(ctx, item.Collection)
		if err != nil {
			return err
		}

		offer, err := op.tx.Offer(ctx, item)
		if err != nil {
			return fmt.Errorf("market: %s: load offer: %w", op.name, err)
		}
		if !offer.ForSale {
			return op.reject(domain.ErrInvalidState, "item is not for sale")
		}
		if offer.Restricted() && offer.OnlySellTo != buyer {
			return op.reject(domain.ErrUnauthorized, "offer is reserved for another buyer")
		}
		if value.Cmp(offer.MinValue) < 0 {
			return op.reject(domain.ErrInvalidValue, "payment is below the asking price")
		}

		// Late-bound check: the seller recorded on the offer may have parted
		// with the item since listing it.
		owner, err := op.ownerOf(ctx, item)
		if err != nil {
			return err
		}
		if owner == buyer {
			return op.reject(domain.ErrUnauthorized, "caller already owns the item")
		}
		if owner != offer.Seller {
			return op.reject(domain.ErrInvalidState, "offer is stale: seller no longer owns the item")
		}
		if err := op.requireApproval(ctx, item, offer.Seller); err != nil {
			return err
		}

		if err := op.tx.PutOffer(ctx, domain.NoOffer(item, buyer)); err != nil {
			return fmt.Errorf("market: %s: store offer: %w", op.name, err)
		}
		if err := op.settle(ctx, collection, offer.Seller, value); err != nil {
			return err
		}

		bid, err := op.tx.Bid(ctx, item)
		if err != nil {
			return fmt.Errorf("market: %s: load bid: %w", op.name, err)
		}
		if bid.HasBid && bid.Bidder == buyer {
			if err := op.credit(ctx, buyer, bid.Value); err != nil {
				return err
			}
			if err := op.tx.PutBid(ctx, domain.NoBid(item)); err != nil {
				return fmt.Errorf("market: %s: store bid: %w", op.name, err)
			}
			op.annotate(amountAttr("released_bid", bid.Value))
		}

		if err := op.emitSale(ctx, item, offer.Seller, buyer, value); err != nil {
			return err
		}

		op.annotate(itemAttrs(item)...)
		op.annotate(amountAttr("value", value))
		if err := e.assets.Transfer(ctx, item.Collection, item.TokenID, offer.Seller, buyer); err != nil {
			return fmt.Errorf("market: %s: transfer %s: %w", op.name, item, err)
		}
		return nil
	})
}

// AcceptBid sells the caller's item to the current top bidder, provided the
// bid is at least minPrice. The escrowed bid value is split between the
// seller and the collection owner.
func (e *Engine) AcceptBid(ctx context.Context, call domain.Call, item domain.Item, minPrice *big.Int) (Receipt, error) {
	return e.execute(ctx, "accept_bid", call, func(ctx context.Context, op *operation) error {
		if err := op.noValue(); err != nil {
			return err
		}
		if minPrice == nil {
			minPrice = new(big.Int)
		}
		seller := op.call.Caller

		collection, err := op.enabledCollection(ctx, item.Collection)
		if err != nil {
			return err
		}

		bid, err := op.tx.Bid(ctx, item)
		if err != nil {
			return fmt.Errorf("market: %s: load bid: %w", op.name, err)
		}
		if !bid.HasBid || bid.Value.Sign() <= 0 {
			return op.reject(domain.ErrInvalidState, "item has no active bid")
		}
		if bid.Value.Cmp(minPrice) < 0 {
			return op.reject(domain.ErrInvalidValue, "bid is below the minimum price")
		}

		owner, err := op.ownerOf(ctx, item)
		if err != nil {
			return err
		}
		if owner != seller {
			return op.reject(domain.ErrUnauthorized, "caller does not own the item")
		}
		if err := op.requireApproval(ctx, item, seller); err != nil {
			return err
		}

		if err := op.tx.PutOffer(ctx, domain.NoOffer(item, bid.Bidder)); err != nil {
			return fmt.Errorf("market: %s: store offer: %w", op.name, err)
		}
		if err := op.tx.PutBid(ctx, domain.NoBid(item)); err != nil {
			return fmt.Errorf("market: %s: store bid: %w", op.name, err)
		}
		if err := op.settle(ctx, collection, seller, bid.Value); err != nil {
			return err
		}
		if err := op.emitSale(ctx, item, seller, bid.Bidder, bid.Value); err != nil {
			return err
		}

		op.annotate(itemAttrs(item)...)
		op.annotate(amountAttr("value", bid.Value))
		if err := e.assets.Transfer(ctx, item.Collection, item.TokenID, seller, bid.Bidder); err != nil {
			return fmt.Errorf("market: %s: transfer %s: %w", op.name, item, err)
		}
		return nil
	})
}

// settle splits value by the collection's royalty and credits both cuts.
func (op *operation) settle(ctx context.Context, collection domain.Collection, seller common.Address, value *big.Int) error {
	ownerCut, sellerCut := SplitRoyalty(value, collection.RoyaltyPercent)
	if ownerCut.Sign() > 0 {
		admin, err := op.engine.assets.AdminOf(ctx, collection.Address)
		if err != nil {
			return fmt.Errorf("market: %s: admin of %s: %w", op.name, collection.Address.Hex(), err)
		}
		if err := op.credit(ctx, admin, ownerCut); err != nil {
			return err
		}
		op.annotate(amountAttr("royalty", ownerCut))
	}
	return op.credit(ctx, seller, sellerCut)
}

// emitSale records the transfer, offer-cleared and bought notifications.
func (op *operation) emitSale(ctx context.Context, item domain.Item, seller, buyer common.Address, value *big.Int) error {
	events := []domain.Event{
		{Type: domain.EventTokenTransfer, From: seller, To: buyer},
		{Type: domain.EventTokenNoLongerForSale, From: buyer},
		{Type: domain.EventTokenBought, From: seller, To: buyer, Value: value},
	}
	for _, evt := range events {
		evt.Collection = item.Collection
		evt.TokenID = item.TokenID
		if err := op.emit(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
