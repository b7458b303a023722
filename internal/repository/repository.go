package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// querier is the subset of pgx operations shared by a pool and a
// transaction, so every query method works in both scopes.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles database operations. A Repository is either
// pool-scoped (autocommit) or transaction-scoped (inside InTx).
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository creates a new pool-scoped repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// InTx runs fn against a transaction-scoped repository. The transaction
// commits only if fn returns nil; any error rolls the whole unit back.
func (r *Repository) InTx(ctx context.Context, fn func(txr *Repository) error) error {
	if r.pool == nil {
		return fmt.Errorf("nested transactions are not supported")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Repository{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
