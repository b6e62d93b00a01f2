package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// EventStore implements domain.EventStore over the market_events outbox.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventColumns = `id::text, type, collection, token_id::text, from_party, to_party,
	value::text, royalty_percent, metadata_uri, created_at`

// List returns committed events, newest first.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	query, args := windowQuery(`SELECT `+eventColumns+` FROM market_events WHERE 1=1`, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return collectEvents(rows)
}

// ListRange returns events created at or after from and strictly before
// the cutoff, oldest first.
func (s *EventStore) ListRange(ctx context.Context, from, before time.Time) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM market_events
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, from, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s..%s: %w",
			from.Format(time.RFC3339), before.Format(time.RFC3339), err)
	}
	return collectEvents(rows)
}

// DeleteBefore removes events created strictly before the cutoff. It is run
// only after those events have been archived.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM market_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e                   domain.Event
			typ, coll, from, to string
			tokenID, value      *string
			royalty             int16
		)
		if err := rows.Scan(&e.ID, &typ, &coll, &tokenID, &from, &to,
			&value, &royalty, &e.MetadataURI, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}

		e.Type = domain.EventType(typ)
		e.Collection = parseAddress(coll)
		e.From = parseAddress(from)
		e.To = parseAddress(to)
		e.RoyaltyPercent = uint8(royalty)

		var err error
		if e.TokenID, err = parseNullableAmount(tokenID); err != nil {
			return nil, fmt.Errorf("postgres: scan event %s token id: %w", e.ID, err)
		}
		if e.Value, err = parseNullableAmount(value); err != nil {
			return nil, fmt.Errorf("postgres: scan event %s value: %w", e.ID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

// windowQuery appends the ListOpts time window, newest-first ordering and
// pagination to a base query that already has a WHERE clause. bound holds
// the arguments of placeholders already present in base.
func windowQuery(base string, opts domain.ListOpts, bound ...any) (string, []any) {
	query := base
	args := append([]any{}, bound...)
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

var _ domain.EventStore = (*EventStore)(nil)
