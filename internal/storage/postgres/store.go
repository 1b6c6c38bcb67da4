// Package postgres implements storage.Storage on PostgreSQL via pgx.
//
// Serialization of each item's claim queue uses a per-item advisory lock
// (pg_advisory_xact_lock) held for the duration of the transaction, with
// the partial unique indexes in schema.go as defense in depth.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giveq/giveq/internal/storage"
)

// Store is the PostgreSQL-backed implementation of storage.Storage.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Storage = (*Store)(nil)

// Open creates a connection pool and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller retains ownership of the
// pool's lifecycle; Close is still safe to call.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// querier is the query surface shared by the pool and an open transaction,
// letting the same query helpers serve both paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunInTransaction executes fn inside a single transaction. A non-nil
// error (or panic) from fn rolls back; nil commits.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }() // no-op after commit

	if err := fn(&txn{q: pgtx}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// txn implements storage.Transaction over an open pgx transaction.
type txn struct {
	q querier
}

var _ storage.Transaction = (*txn)(nil)

// LockItemQueue acquires the per-item advisory lock serializing all
// writers of the item's active set. Transaction-scoped: released at
// commit or rollback, so a crashed worker never leaves the queue wedged.
func (t *txn) LockItemQueue(ctx context.Context, itemID string) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('giveq:queue:' || $1, 0))`, itemID)
	if err != nil {
		return fmt.Errorf("failed to lock item queue %s: %w", itemID, mapError(err))
	}
	return nil
}

// mapError translates driver errors into the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case duplicateIndexName:
			return fmt.Errorf("%w: %s", storage.ErrDuplicateActiveClaim, pgErr.Detail)
		case positionIndexName:
			return fmt.Errorf("%w: %s", storage.ErrPositionConflict, pgErr.Detail)
		}
	}
	return err
}
