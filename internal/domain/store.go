package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore is the persisted marketplace state: collection configuration,
// offers, bids and pending balances. All reads and writes happen inside a
// MarketTx so that an operation either commits every mutation or none.
type MarketStore interface {
	Begin(ctx context.Context) (MarketTx, error)
	// BeginRead opens a read-only view that takes no row locks, so it never
	// waits behind an in-flight MarketTx.
	BeginRead(ctx context.Context) (ReadTx, error)
}

// MarketReader reads the marketplace state. Getters return the zero record
// (never ErrNotFound) for keys that were never written.
type MarketReader interface {
	Collection(ctx context.Context, addr common.Address) (Collection, error)
	Offer(ctx context.Context, item Item) (Offer, error)
	Bid(ctx context.Context, item Item) (Bid, error)
	Balance(ctx context.Context, party common.Address) (*big.Int, error)
}

// ReadTx is a read-only view of the committed marketplace state.
type ReadTx interface {
	MarketReader
	Rollback(ctx context.Context) error
}

// MarketTx is one all-or-nothing unit of work over the marketplace state.
// Rollback after Commit is a no-op.
type MarketTx interface {
	MarketReader

	PutCollection(ctx context.Context, c Collection) error
	PutOffer(ctx context.Context, o Offer) error
	PutBid(ctx context.Context, b Bid) error
	PutBalance(ctx context.Context, party common.Address, amount *big.Int) error

	// AppendEvent records a notification in the outbox; it becomes visible
	// to EventStore readers only after Commit.
	AppendEvent(ctx context.Context, evt Event) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EventStore reads the committed event outbox.
type EventStore interface {
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	// ListRange returns events created in [from, before), oldest first.
	ListRange(ctx context.Context, from, before time.Time) ([]Event, error)
}

// AuditEntry is a single audit log row. Actor is the verified caller of a
// market operation and the zero address for operator jobs like archiving.
type AuditEntry struct {
	ID        int64
	Event     string
	Actor     common.Address
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. ID and CreatedAt are
// assigned by the store.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListByActor returns the entries recorded for one caller, newest first.
	ListByActor(ctx context.Context, actor common.Address, opts ListOpts) ([]AuditEntry, error)
}
