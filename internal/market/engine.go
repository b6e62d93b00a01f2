// Package market implements the marketplace trading and ledger engine: the
// collection registry, the offer/bid state machine, settlement of sales with
// royalty splitting, and the pending-balance ledger with its withdrawal
// protocol.
//
// Every state-changing operation runs as one MarketTx. Preconditions are
// checked first, then every ledger and offer/bid record is written to its
// final value, and only then is the single external call (an asset transfer
// or a payment) issued. A failure anywhere, including in that external call,
// rolls the transaction back. While an operation is in flight the engine
// rejects any other state-changing call with domain.ErrReentrant, which is
// what a collaborator calling back into the marketplace observes.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// Receipt describes a committed operation.
type Receipt struct {
	Op     string
	Events []domain.Event
}

// Engine executes marketplace operations against a MarketStore.
type Engine struct {
	store    domain.MarketStore
	assets   domain.AssetRegistry
	treasury domain.Treasury
	self     common.Address
	logger   *slog.Logger
	now      func() time.Time
	guard    guard
}

// NewEngine creates an Engine. self is the marketplace's own identity: the
// spender whose transfer approval is checked on the asset registry.
func NewEngine(
	store domain.MarketStore,
	assets domain.AssetRegistry,
	treasury domain.Treasury,
	self common.Address,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		assets:   assets,
		treasury: treasury,
		self:     self,
		logger:   logger.With(slog.String("component", "market")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Address returns the marketplace identity used for approval checks.
func (e *Engine) Address() common.Address {
	return e.self
}

// operation is the state of one in-flight call.
type operation struct {
	name   string
	call   domain.Call
	tx     domain.MarketTx
	engine *Engine
	events []domain.Event
	attrs  []slog.Attr
}

// execute runs fn inside the reentrancy guard and a fresh transaction,
// committing only if fn returns nil.
func (e *Engine) execute(ctx context.Context, name string, call domain.Call, fn func(ctx context.Context, op *operation) error) (Receipt, error) {
	if !e.guard.enter() {
		e.logger.WarnContext(ctx, "market: nested call rejected",
			slog.String("op", name),
			slog.String("caller", call.Caller.Hex()),
		)
		return Receipt{}, domain.Reject(name, domain.ErrReentrant, "another operation is in progress")
	}
	defer e.guard.exit()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("market: %s: begin: %w", name, err)
	}

	op := &operation{
		name:   name,
		call:   call,
		tx:     tx,
		engine: e,
		attrs: []slog.Attr{
			slog.String("op", name),
			slog.String("caller", call.Caller.Hex()),
		},
	}

	if err := fn(ctx, op); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.ErrorContext(ctx, "market: rollback failed",
				slog.String("op", name),
				slog.String("error", rbErr.Error()),
			)
		}
		e.logger.LogAttrs(ctx, slog.LevelDebug, "market: operation rejected",
			append(op.attrs, slog.String("error", err.Error()))...)
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("market: %s: commit: %w", name, err)
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "market: operation committed", op.attrs...)
	return Receipt{Op: name, Events: op.events}, nil
}

// reject builds a MarketError tagged with the operation name.
func (op *operation) reject(kind error, reason string) error {
	return domain.Reject(op.name, kind, reason)
}

func (op *operation) annotate(attrs ...slog.Attr) {
	op.attrs = append(op.attrs, attrs...)
}

// emit records evt in the transaction's outbox.
func (op *operation) emit(ctx context.Context, evt domain.Event) error {
	evt.ID = uuid.NewString()
	evt.CreatedAt = op.engine.now()
	if err := op.tx.AppendEvent(ctx, evt); err != nil {
		return fmt.Errorf("market: %s: append event: %w", op.name, err)
	}
	op.events = append(op.events, evt)
	return nil
}

// noValue rejects calls that attach value to a non-payable operation.
func (op *operation) noValue() error {
	if op.call.Amount().Sign() != 0 {
		return op.reject(domain.ErrInvalidValue, "operation does not accept value")
	}
	return nil
}

// enabledCollection loads the collection and requires it to be enabled.
func (op *operation) enabledCollection(ctx context.Context, addr common.Address) (domain.Collection, error) {
	c, err := op.tx.Collection(ctx, addr)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("market: %s: load collection: %w", op.name, err)
	}
	if !c.Enabled {
		return domain.Collection{}, op.reject(domain.ErrInvalidState, "collection is not enabled")
	}
	return c, nil
}

// ownerOf asks the asset registry for the item's current owner.
func (op *operation) ownerOf(ctx context.Context, item domain.Item) (common.Address, error) {
	owner, err := op.engine.assets.OwnerOf(ctx, item.Collection, item.TokenID)
	if err != nil {
		return common.Address{}, fmt.Errorf("market: %s: owner of %s: %w", op.name, item, err)
	}
	return owner, nil
}

// requireApproval checks that the marketplace may move item on behalf of
// owner.
func (op *operation) requireApproval(ctx context.Context, item domain.Item, owner common.Address) error {
	ok, err := op.engine.assets.IsApproved(ctx, item.Collection, item.TokenID, owner, op.engine.self)
	if err != nil {
		return fmt.Errorf("market: %s: approval of %s: %w", op.name, item, err)
	}
	if !ok {
		return op.reject(domain.ErrNotApproved, "marketplace is not approved to transfer the item")
	}
	return nil
}

// credit adds amount to party's pending balance.
func (op *operation) credit(ctx context.Context, party common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	bal, err := op.tx.Balance(ctx, party)
	if err != nil {
		return fmt.Errorf("market: %s: load balance: %w", op.name, err)
	}
	next := new(big.Int).Add(bal, amount)
	if err := op.tx.PutBalance(ctx, party, next); err != nil {
		return fmt.Errorf("market: %s: store balance: %w", op.name, err)
	}
	return nil
}

// read runs fn against a read-only view. Reads take neither the reentrancy
// guard nor row locks, so collaborators may inspect state mid-operation and
// observe the last committed values.
func (e *Engine) read(ctx context.Context, fn func(tx domain.MarketReader) error) error {
	tx, err := e.store.BeginRead(ctx)
	if err != nil {
		return fmt.Errorf("market: read: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(tx)
}

func amountAttr(key string, v *big.Int) slog.Attr {
	if v == nil {
		return slog.String(key, "0")
	}
	return slog.String(key, v.String())
}

func itemAttrs(item domain.Item) []slog.Attr {
	return []slog.Attr{
		slog.String("collection", item.Collection.Hex()),
		slog.String("token_id", item.TokenID.String()),
	}
}
