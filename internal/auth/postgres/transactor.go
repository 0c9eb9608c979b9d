// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/taskmill/taskmill/internal/auth"
	"github.com/taskmill/taskmill/internal/store"
)

type txKey struct{}

// querier is satisfied by both the pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn returns the transaction stored in ctx, or db when there is none.
func conn(ctx context.Context, db store.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

// Transactor implements auth.Transactor on a connection pool.
type Transactor struct {
	db store.DB
}

var _ auth.Transactor = (*Transactor)(nil)

// NewTransactor creates a Transactor.
func NewTransactor(db store.DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction begins a transaction, stores it in the context passed to fn
// and commits if fn returns nil. A context already carrying a transaction
// joins it instead of opening a new one.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}
