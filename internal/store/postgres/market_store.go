package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Every MarketTx
// is one database transaction; rows read inside it are locked with
// SELECT ... FOR UPDATE until Commit or Rollback. Read-only views run in a
// READ ONLY transaction and lock nothing.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Begin opens a database transaction.
func (s *MarketStore) Begin(ctx context.Context) (domain.MarketTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin market tx: %w", err)
	}
	return &marketTx{tx: tx, lockRows: true}, nil
}

// BeginRead opens a read-only transaction whose selects take no row locks.
func (s *MarketStore) BeginRead(ctx context.Context) (domain.ReadTx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin market read: %w", err)
	}
	return &marketTx{tx: tx}, nil
}

type marketTx struct {
	tx       pgx.Tx
	lockRows bool
}

// selectQuery appends FOR UPDATE when the transaction locks what it reads.
func (t *marketTx) selectQuery(query string) string {
	if t.lockRows {
		return query + " FOR UPDATE"
	}
	return query
}

func (t *marketTx) Collection(ctx context.Context, addr common.Address) (domain.Collection, error) {
	const query = `
		SELECT enabled, royalty_percent, metadata_uri, updated_at
		FROM collections WHERE address = $1`

	c := domain.Collection{Address: addr}
	var royalty int16
	err := t.tx.QueryRow(ctx, t.selectQuery(query), addr.Hex()).Scan(&c.Enabled, &royalty, &c.MetadataURI, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DisabledCollection(addr), nil
	}
	if err != nil {
		return domain.Collection{}, fmt.Errorf("postgres: get collection %s: %w", addr.Hex(), err)
	}
	c.RoyaltyPercent = uint8(royalty)
	return c, nil
}

func (t *marketTx) PutCollection(ctx context.Context, c domain.Collection) error {
	const query = `
		INSERT INTO collections (address, enabled, royalty_percent, metadata_uri, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (address) DO UPDATE SET
			enabled         = EXCLUDED.enabled,
			royalty_percent = EXCLUDED.royalty_percent,
			metadata_uri    = EXCLUDED.metadata_uri,
			updated_at      = NOW()`

	if _, err := t.tx.Exec(ctx, query, c.Address.Hex(), c.Enabled, int16(c.RoyaltyPercent), c.MetadataURI); err != nil {
		return fmt.Errorf("postgres: put collection %s: %w", c.Address.Hex(), err)
	}
	return nil
}

func (t *marketTx) Offer(ctx context.Context, item domain.Item) (domain.Offer, error) {
	const query = `
		SELECT for_sale, seller, min_value::text, only_sell_to
		FROM offers WHERE collection = $1 AND token_id = $2::numeric`

	o := domain.Offer{Item: item}
	var seller, minValue, onlyTo string
	err := t.tx.QueryRow(ctx, t.selectQuery(query), item.Collection.Hex(), item.TokenID.String()).
		Scan(&o.ForSale, &seller, &minValue, &onlyTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NoOffer(item, common.Address{}), nil
	}
	if err != nil {
		return domain.Offer{}, fmt.Errorf("postgres: get offer %s: %w", item, err)
	}

	o.Seller = parseAddress(seller)
	o.OnlySellTo = parseAddress(onlyTo)
	if o.MinValue, err = parseAmount(minValue); err != nil {
		return domain.Offer{}, fmt.Errorf("postgres: get offer %s: %w", item, err)
	}
	return o, nil
}

func (t *marketTx) PutOffer(ctx context.Context, o domain.Offer) error {
	const query = `
		INSERT INTO offers (collection, token_id, for_sale, seller, min_value, only_sell_to, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, $6, NOW())
		ON CONFLICT (collection, token_id) DO UPDATE SET
			for_sale     = EXCLUDED.for_sale,
			seller       = EXCLUDED.seller,
			min_value    = EXCLUDED.min_value,
			only_sell_to = EXCLUDED.only_sell_to,
			updated_at   = NOW()`

	_, err := t.tx.Exec(ctx, query,
		o.Item.Collection.Hex(), o.Item.TokenID.String(),
		o.ForSale, formatAddress(o.Seller), amountText(o.MinValue), formatAddress(o.OnlySellTo),
	)
	if err != nil {
		return fmt.Errorf("postgres: put offer %s: %w", o.Item, err)
	}
	return nil
}

func (t *marketTx) Bid(ctx context.Context, item domain.Item) (domain.Bid, error) {
	const query = `
		SELECT has_bid, bidder, value::text
		FROM bids WHERE collection = $1 AND token_id = $2::numeric`

	b := domain.Bid{Item: item}
	var bidder, value string
	err := t.tx.QueryRow(ctx, t.selectQuery(query), item.Collection.Hex(), item.TokenID.String()).
		Scan(&b.HasBid, &bidder, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NoBid(item), nil
	}
	if err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", item, err)
	}

	b.Bidder = parseAddress(bidder)
	if b.Value, err = parseAmount(value); err != nil {
		return domain.Bid{}, fmt.Errorf("postgres: get bid %s: %w", item, err)
	}
	return b, nil
}

func (t *marketTx) PutBid(ctx context.Context, b domain.Bid) error {
	const query = `
		INSERT INTO bids (collection, token_id, has_bid, bidder, value, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5::numeric, NOW())
		ON CONFLICT (collection, token_id) DO UPDATE SET
			has_bid    = EXCLUDED.has_bid,
			bidder     = EXCLUDED.bidder,
			value      = EXCLUDED.value,
			updated_at = NOW()`

	_, err := t.tx.Exec(ctx, query,
		b.Item.Collection.Hex(), b.Item.TokenID.String(),
		b.HasBid, formatAddress(b.Bidder), amountText(b.Value),
	)
	if err != nil {
		return fmt.Errorf("postgres: put bid %s: %w", b.Item, err)
	}
	return nil
}

func (t *marketTx) Balance(ctx context.Context, party common.Address) (*big.Int, error) {
	const query = `SELECT amount::text FROM pending_balances WHERE party = $1`

	var amount string
	err := t.tx.QueryRow(ctx, t.selectQuery(query), party.Hex()).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get balance %s: %w", party.Hex(), err)
	}
	v, err := parseAmount(amount)
	if err != nil {
		return nil, fmt.Errorf("postgres: get balance %s: %w", party.Hex(), err)
	}
	return v, nil
}

func (t *marketTx) PutBalance(ctx context.Context, party common.Address, amount *big.Int) error {
	const query = `
		INSERT INTO pending_balances (party, amount, updated_at)
		VALUES ($1, $2::numeric, NOW())
		ON CONFLICT (party) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = NOW()`

	if _, err := t.tx.Exec(ctx, query, party.Hex(), amountText(amount)); err != nil {
		return fmt.Errorf("postgres: put balance %s: %w", party.Hex(), err)
	}
	return nil
}

func (t *marketTx) AppendEvent(ctx context.Context, evt domain.Event) error {
	const query = `
		INSERT INTO market_events (
			id, type, collection, token_id, from_party, to_party,
			value, royalty_percent, metadata_uri, created_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5, $6,
			$7::numeric, $8, $9, $10
		)`

	_, err := t.tx.Exec(ctx, query,
		evt.ID, string(evt.Type), evt.Collection.Hex(), nullableAmount(evt.TokenID),
		formatAddress(evt.From), formatAddress(evt.To),
		nullableAmount(evt.Value), int16(evt.RoyaltyPercent), evt.MetadataURI, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", evt.Type, err)
	}
	return nil
}

func (t *marketTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market tx: %w", err)
	}
	return nil
}

// Rollback is a no-op once the transaction has been committed.
func (t *marketTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback market tx: %w", err)
	}
	return nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
