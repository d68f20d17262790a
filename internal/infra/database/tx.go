package database

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type ctxTxKeyType struct{}

var ctxTxKey = ctxTxKeyType{}

// TxProvider runs functions inside a transaction carried by the context, so
// several repositories can commit together.
type TxProvider struct {
	db *sql.DB
}

func NewTxProvider(db *sql.DB) *TxProvider {
	return &TxProvider{db: db}
}

// Transact commits when fn returns nil and rolls back otherwise. Nested calls
// join the outer transaction.
func (p *TxProvider) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, p.db, func(ctx context.Context, _ *sql.Tx) error {
		return fn(ctx)
	})
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxTxKey).(*sql.Tx)
	return tx, ok
}

// conn returns the transaction in ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return db
}

func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, ctxTxKey, tx), tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
