package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Market
// operations are indexed by their caller; operator jobs store an empty actor.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

const auditColumns = `id, event, actor, detail, created_at`

// Log appends a new audit entry. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, actor, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, entry.Event, formatAddress(entry.Actor), detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", entry.Event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := windowQuery(`SELECT `+auditColumns+` FROM audit_log WHERE 1=1`, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return collectAudit(rows)
}

// ListByActor returns the audit entries of one caller, newest first.
func (s *AuditStore) ListByActor(ctx context.Context, actor common.Address, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := windowQuery(`SELECT `+auditColumns+` FROM audit_log WHERE actor = $1`, opts, formatAddress(actor))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries for %s: %w", actor.Hex(), err)
	}
	return collectAudit(rows)
}

func collectAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			actor      string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &actor, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Actor = parseAddress(actor)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
