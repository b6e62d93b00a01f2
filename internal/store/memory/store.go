// Package memory implements the domain store interfaces in process memory.
// Transactions buffer their writes in an overlay and apply them to the shared
// state under a single lock on Commit.
package memory

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// ErrTxDone is returned when a transaction is used after Commit or Rollback.
var ErrTxDone = errors.New("memory: transaction already finished")

// Store holds the marketplace state, the event outbox, and the audit log.
type Store struct {
	mu          sync.RWMutex
	collections map[common.Address]domain.Collection
	offers      map[domain.ItemKey]domain.Offer
	bids        map[domain.ItemKey]domain.Bid
	balances    map[common.Address]*big.Int
	events      []domain.Event
	audit       []domain.AuditEntry
	now         func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[common.Address]domain.Collection),
		offers:      make(map[domain.ItemKey]domain.Offer),
		bids:        make(map[domain.ItemKey]domain.Bid),
		balances:    make(map[common.Address]*big.Int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (domain.MarketTx, error) {
	return &tx{
		store:       s,
		collections: make(map[common.Address]domain.Collection),
		offers:      make(map[domain.ItemKey]domain.Offer),
		bids:        make(map[domain.ItemKey]domain.Bid),
		balances:    make(map[common.Address]*big.Int),
	}, nil
}

// BeginRead starts a read-only view. Reads never block on open transactions.
func (s *Store) BeginRead(ctx context.Context) (domain.ReadTx, error) {
	return s.Begin(ctx)
}

// Snapshot is a copy of the committed ledger state.
type Snapshot struct {
	Balances map[common.Address]*big.Int
	Bids     []domain.Bid
	Offers   []domain.Offer
}

// Snapshot copies the committed balances, active bids and active offers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Balances: make(map[common.Address]*big.Int, len(s.balances))}
	for party, amt := range s.balances {
		if amt.Sign() > 0 {
			snap.Balances[party] = new(big.Int).Set(amt)
		}
	}
	for _, b := range s.bids {
		if b.HasBid {
			snap.Bids = append(snap.Bids, cloneBid(b))
		}
	}
	for _, o := range s.offers {
		if o.ForSale {
			snap.Offers = append(snap.Offers, cloneOffer(o))
		}
	}
	return snap
}

// Escrowed returns the sum of every pending balance and every active bid.
func (s Snapshot) Escrowed() *big.Int {
	total := new(big.Int)
	for _, amt := range s.Balances {
		total.Add(total, amt)
	}
	for _, b := range s.Bids {
		total.Add(total, b.Value)
	}
	return total
}

// List returns committed events, newest first.
func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return paginate(out, opts), nil
}

// ListRange returns committed events created in [from, before), oldest
// first.
func (s *Store) ListRange(ctx context.Context, from, before time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, e := range s.events {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Log appends an audit entry.
func (s *Store) Log(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = int64(len(s.audit) + 1)
	entry.CreatedAt = s.now()
	s.audit = append(s.audit, entry)
	return nil
}

// listAudit returns audit entries, newest first. A non-nil actor keeps only
// that caller's entries.
func (s *Store) listAudit(actor *common.Address, opts domain.ListOpts) []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		a := s.audit[i]
		if actor != nil && a.Actor != *actor {
			continue
		}
		if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && a.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, a)
	}
	return paginate(out, opts)
}

// AuditLog adapts the Store to domain.AuditStore.
type AuditLog struct{ s *Store }

// Audit returns the Store's audit log view.
func (s *Store) Audit() AuditLog { return AuditLog{s: s} }

// Log appends an audit entry.
func (a AuditLog) Log(ctx context.Context, entry domain.AuditEntry) error {
	return a.s.Log(ctx, entry)
}

// List returns audit entries, newest first.
func (a AuditLog) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.s.listAudit(nil, opts), nil
}

// ListByActor returns one caller's audit entries, newest first.
func (a AuditLog) ListByActor(ctx context.Context, actor common.Address, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return a.s.listAudit(&actor, opts), nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// sortEvents orders events oldest first; used when committing a batch.
func sortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// Compile-time interface checks.
var (
	_ domain.MarketStore = (*Store)(nil)
	_ domain.EventStore  = (*Store)(nil)
	_ domain.AuditStore  = AuditLog{}
)

// DeleteBefore drops committed events created strictly before the cutoff.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}
