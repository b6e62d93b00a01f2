package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Item identifies one token inside one collection.
type Item struct {
	Collection common.Address
	TokenID    *big.Int
}

// NewItem builds an Item, copying tokenID so callers may reuse their value.
func NewItem(collection common.Address, tokenID *big.Int) Item {
	id := new(big.Int)
	if tokenID != nil {
		id.Set(tokenID)
	}
	return Item{Collection: collection, TokenID: id}
}

// Key returns a comparable form of the item usable as a map key.
func (i Item) Key() ItemKey {
	var id common.Hash
	if i.TokenID != nil {
		id = common.BigToHash(i.TokenID)
	}
	return ItemKey{Collection: i.Collection, TokenID: id}
}

func (i Item) String() string {
	return fmt.Sprintf("%s#%s", i.Collection.Hex(), i.TokenID)
}

// ItemKey is the comparable identity of an Item. TokenID holds the uint256
// token id as 32 big-endian bytes.
type ItemKey struct {
	Collection common.Address
	TokenID    common.Hash
}

// Item converts the key back to an Item.
func (k ItemKey) Item() Item {
	return Item{Collection: k.Collection, TokenID: k.TokenID.Big()}
}

// Offer is a seller's standing willingness to sell an item. OnlySellTo is the
// zero address when any buyer may accept.
type Offer struct {
	Item       Item
	ForSale    bool
	Seller     common.Address
	MinValue   *big.Int
	OnlySellTo common.Address
}

// Restricted reports whether the offer is reserved for a single buyer.
func (o Offer) Restricted() bool {
	return o.OnlySellTo != (common.Address{})
}

// NoOffer returns the cleared offer record for item with seller recorded as
// the bookkeeping marker.
func NoOffer(item Item, seller common.Address) Offer {
	return Offer{Item: item, Seller: seller, MinValue: new(big.Int)}
}

// Bid is the single highest escrowed bid on an item.
type Bid struct {
	Item   Item
	HasBid bool
	Bidder common.Address
	Value  *big.Int
}

// NoBid returns the cleared bid record for item.
func NoBid(item Item) Bid {
	return Bid{Item: item, Value: new(big.Int)}
}

// Call carries the caller-derived context of a public operation: who is
// calling and how much value is attached to the call.
type Call struct {
	Caller common.Address
	Value  *big.Int
}

// Amount returns the attached value, never nil.
func (c Call) Amount() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}
