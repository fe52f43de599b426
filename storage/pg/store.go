// Package pg provides the PostgreSQL-backed ledger.Store: pool
// definitions plus the append-only consumption-event log that is the
// broker's source of truth.
//
// Amounts are stored as BIGINT micro-credits, never floating point.
// Events are insert-only; concurrent writers contend only on insert,
// never on existing rows.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antihub/quotabroker/core/ledger"
	pgdb "github.com/antihub/quotabroker/integration/database/pg"
)

// Store is the PostgreSQL-backed ledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*Store)(nil)

// New creates a Store over the given connection pool. Schema is managed
// by goose migrations (see migrations/), not by the store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// dbtx is the subset of pgx executors the store needs; both
// *pgxpool.Pool and pgx.Tx satisfy it.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db returns the executor for ctx: the ambient transaction when one was
// attached with pg.WithTx, the pool otherwise.
func (s *Store) db(ctx context.Context) dbtx {
	if tx, ok := pgdb.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

// CreatePool persists a new pool definition.
func (s *Store) CreatePool(ctx context.Context, pool ledger.Pool) error {
	const q = `INSERT INTO pools (id, total_quota_micros, reset_policy, reset_interval_seconds, last_reset, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db(ctx).Exec(ctx, q,
		pool.ID,
		pool.TotalQuota.Micros(),
		string(pool.ResetPolicy),
		int64(pool.ResetInterval/time.Second),
		nullableTime(pool.LastReset),
		pool.CreatedAt,
		pool.UpdatedAt,
	)
	if pgdb.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %q", ledger.ErrPoolExists, pool.ID)
	}
	if err != nil {
		return fmt.Errorf("storage/pg: create pool: %w", err)
	}
	return nil
}

// UpdatePool replaces an existing pool definition.
func (s *Store) UpdatePool(ctx context.Context, pool ledger.Pool) error {
	const q = `UPDATE pools
		SET total_quota_micros = $2, reset_policy = $3, reset_interval_seconds = $4, last_reset = $5, updated_at = $6
		WHERE id = $1`

	tag, err := s.db(ctx).Exec(ctx, q,
		pool.ID,
		pool.TotalQuota.Micros(),
		string(pool.ResetPolicy),
		int64(pool.ResetInterval/time.Second),
		nullableTime(pool.LastReset),
		pool.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage/pg: update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ledger.ErrPoolUnknown, pool.ID)
	}
	return nil
}

// GetPool fetches one pool definition.
func (s *Store) GetPool(ctx context.Context, poolID string) (ledger.Pool, error) {
	const q = `SELECT id, total_quota_micros, reset_policy, reset_interval_seconds, last_reset, created_at, updated_at
		FROM pools WHERE id = $1`

	var (
		pool            ledger.Pool
		totalMicros     int64
		policy          string
		intervalSeconds int64
		lastReset       *time.Time
	)
	err := s.db(ctx).QueryRow(ctx, q, poolID).Scan(
		&pool.ID, &totalMicros, &policy, &intervalSeconds, &lastReset, &pool.CreatedAt, &pool.UpdatedAt,
	)
	if pgdb.IsNotFoundError(err) {
		return ledger.Pool{}, fmt.Errorf("%w: %q", ledger.ErrPoolUnknown, poolID)
	}
	if err != nil {
		return ledger.Pool{}, fmt.Errorf("storage/pg: get pool: %w", err)
	}

	pool.TotalQuota = ledger.CreditsFromMicros(totalMicros)
	pool.ResetPolicy = ledger.ResetPolicy(policy)
	pool.ResetInterval = time.Duration(intervalSeconds) * time.Second
	if lastReset != nil {
		pool.LastReset = lastReset.UTC()
	}
	return pool, nil
}

// ListPools returns all pool definitions ordered by id.
func (s *Store) ListPools(ctx context.Context) ([]ledger.Pool, error) {
	const q = `SELECT id, total_quota_micros, reset_policy, reset_interval_seconds, last_reset, created_at, updated_at
		FROM pools ORDER BY id`

	rows, err := s.db(ctx).Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage/pg: list pools: %w", err)
	}
	defer rows.Close()

	var pools []ledger.Pool
	for rows.Next() {
		var (
			pool            ledger.Pool
			totalMicros     int64
			policy          string
			intervalSeconds int64
			lastReset       *time.Time
		)
		if err := rows.Scan(&pool.ID, &totalMicros, &policy, &intervalSeconds, &lastReset, &pool.CreatedAt, &pool.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage/pg: scan pool: %w", err)
		}
		pool.TotalQuota = ledger.CreditsFromMicros(totalMicros)
		pool.ResetPolicy = ledger.ResetPolicy(policy)
		pool.ResetInterval = time.Duration(intervalSeconds) * time.Second
		if lastReset != nil {
			pool.LastReset = lastReset.UTC()
		}
		pools = append(pools, pool)
	}
	return pools, rows.Err()
}

// InsertEvent appends one immutable consumption event.
func (s *Store) InsertEvent(ctx context.Context, event ledger.ConsumptionEvent) error {
	const q = `INSERT INTO consumption_events (id, pool_id, quota_consumed_micros, consumed_at, source_key_id, request_count_increment)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db(ctx).Exec(ctx, q,
		event.ID,
		event.PoolID,
		event.QuotaConsumed.Micros(),
		event.ConsumedAt,
		event.SourceKeyID,
		event.RequestCountIncrement,
	)
	if pgdb.IsForeignKeyViolationError(err) {
		return fmt.Errorf("%w: %q", ledger.ErrPoolUnknown, event.PoolID)
	}
	if err != nil {
		return fmt.Errorf("storage/pg: insert event: %w", err)
	}
	return nil
}

// SumConsumed returns total consumption for a pool since the given
// instant. This query is the authority the reconciler trusts; it rides
// the (pool_id, consumed_at) index.
func (s *Store) SumConsumed(ctx context.Context, poolID string, since time.Time) (ledger.Credits, error) {
	const q = `SELECT COALESCE(SUM(quota_consumed_micros), 0)
		FROM consumption_events WHERE pool_id = $1 AND consumed_at >= $2`

	var micros int64
	if err := s.db(ctx).QueryRow(ctx, q, poolID, since).Scan(&micros); err != nil {
		return 0, fmt.Errorf("storage/pg: sum consumed: %w", err)
	}
	return ledger.CreditsFromMicros(micros), nil
}

// ListEvents returns events matching the filter, newest first.
func (s *Store) ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.ConsumptionEvent, error) {
	q := `SELECT id, pool_id, quota_consumed_micros, consumed_at, source_key_id, request_count_increment
		FROM consumption_events WHERE 1=1`
	args := make([]any, 0, 4)

	if filter.PoolID != "" {
		args = append(args, filter.PoolID)
		q += fmt.Sprintf(" AND pool_id = $%d", len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		q += fmt.Sprintf(" AND consumed_at >= $%d", len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		q += fmt.Sprintf(" AND consumed_at < $%d", len(args))
	}
	q += " ORDER BY consumed_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage/pg: list events: %w", err)
	}
	defer rows.Close()

	var events []ledger.ConsumptionEvent
	for rows.Next() {
		var (
			ev     ledger.ConsumptionEvent
			micros int64
		)
		if err := rows.Scan(&ev.ID, &ev.PoolID, &micros, &ev.ConsumedAt, &ev.SourceKeyID, &ev.RequestCountIncrement); err != nil {
			return nil, fmt.Errorf("storage/pg: scan event: %w", err)
		}
		ev.QuotaConsumed = ledger.CreditsFromMicros(micros)
		ev.ConsumedAt = ev.ConsumedAt.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
