package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ order.Database = (*Store)(nil)

// Store runs units of work against the pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx runs fn inside a READ COMMITTED transaction. The transaction commits
// when fn returns nil and rolls back on error or panic.
func (s *Store) InTx(ctx context.Context, fn func(tx order.Tx) error) error {
	return s.inTx(ctx, func(q *Queries) error { return fn(q) })
}

// InCatalogTx runs fn with catalog queries bound to one transaction.
func (s *Store) InCatalogTx(ctx context.Context, fn func(q *Queries) error) error {
	return s.inTx(ctx, fn)
}

func (s *Store) inTx(ctx context.Context, fn func(q *Queries) error) error {
	var fnErr error
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		fnErr = fn(&Queries{db: tx})
		return fnErr
	})
	if err != nil && fnErr == nil {
		// Begin or commit failed.
		return &order.PersistenceError{Op: "transaction", Err: err}
	}
	return err
}

// Orders returns a repository reading outside any transaction.
func (s *Store) Orders() order.Repository {
	return &Queries{db: s.pool}
}

// Catalog returns the catalog queries bound to the pool.
func (s *Store) Catalog() *Queries {
	return &Queries{db: s.pool}
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Queries implements the domain repositories on a connection or
// transaction.
type Queries struct {
	db DBTX
}

var _ order.Tx = (*Queries)(nil)

func fail(op string, err error) error {
	return &order.PersistenceError{Op: op, Err: err}
}
