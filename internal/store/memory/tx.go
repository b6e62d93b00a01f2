package memory

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// tx is an overlay of pending writes on top of the committed state. Reads see
// the transaction's own writes first.
type tx struct {
	store       *Store
	collections map[common.Address]domain.Collection
	offers      map[domain.ItemKey]domain.Offer
	bids        map[domain.ItemKey]domain.Bid
	balances    map[common.Address]*big.Int
	events      []domain.Event
	done        bool
}

func (t *tx) Collection(ctx context.Context, addr common.Address) (domain.Collection, error) {
	if t.done {
		return domain.Collection{}, ErrTxDone
	}
	if c, ok := t.collections[addr]; ok {
		return c, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if c, ok := t.store.collections[addr]; ok {
		return c, nil
	}
	return domain.DisabledCollection(addr), nil
}

func (t *tx) PutCollection(ctx context.Context, c domain.Collection) error {
	if t.done {
		return ErrTxDone
	}
	t.collections[c.Address] = c
	return nil
}

func (t *tx) Offer(ctx context.Context, item domain.Item) (domain.Offer, error) {
	if t.done {
		return domain.Offer{}, ErrTxDone
	}
	key := item.Key()
	if o, ok := t.offers[key]; ok {
		return cloneOffer(o), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if o, ok := t.store.offers[key]; ok {
		return cloneOffer(o), nil
	}
	return domain.NoOffer(key.Item(), common.Address{}), nil
}

func (t *tx) PutOffer(ctx context.Context, o domain.Offer) error {
	if t.done {
		return ErrTxDone
	}
	t.offers[o.Item.Key()] = cloneOffer(o)
	return nil
}

func (t *tx) Bid(ctx context.Context, item domain.Item) (domain.Bid, error) {
	if t.done {
		return domain.Bid{}, ErrTxDone
	}
	key := item.Key()
	if b, ok := t.bids[key]; ok {
		return cloneBid(b), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if b, ok := t.store.bids[key]; ok {
		return cloneBid(b), nil
	}
	return domain.NoBid(key.Item()), nil
}

func (t *tx) PutBid(ctx context.Context, b domain.Bid) error {
	if t.done {
		return ErrTxDone
	}
	t.bids[b.Item.Key()] = cloneBid(b)
	return nil
}

func (t *tx) Balance(ctx context.Context, party common.Address) (*big.Int, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if b, ok := t.balances[party]; ok {
		return new(big.Int).Set(b), nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if b, ok := t.store.balances[party]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (t *tx) PutBalance(ctx context.Context, party common.Address, amount *big.Int) error {
	if t.done {
		return ErrTxDone
	}
	t.balances[party] = new(big.Int).Set(amount)
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, evt domain.Event) error {
	if t.done {
		return ErrTxDone
	}
	t.events = append(t.events, evt)
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range t.collections {
		s.collections[k] = v
	}
	for k, v := range t.offers {
		s.offers[k] = v
	}
	for k, v := range t.bids {
		s.bids[k] = v
	}
	for k, v := range t.balances {
		s.balances[k] = v
	}
	sortEvents(t.events)
	s.events = append(s.events, t.events...)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

func cloneOffer(o domain.Offer) domain.Offer {
	o.Item = domain.NewItem(o.Item.Collection, o.Item.TokenID)
	if o.MinValue == nil {
		o.MinValue = new(big.Int)
	} else {
		o.MinValue = new(big.Int).Set(o.MinValue)
	}
	return o
}

func cloneBid(b domain.Bid) domain.Bid {
	b.Item = domain.NewItem(b.Item.Collection, b.Item.TokenID)
	if b.Value == nil {
		b.Value = new(big.Int)
	} else {
		b.Value = new(big.Int).Set(b.Value)
	}
	return b
}
