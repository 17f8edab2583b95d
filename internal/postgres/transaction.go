package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

type txKey struct{}

// Tx is the transaction carried on a context. Nested WithTx calls open
// savepoints on it instead of new transactions.
type Tx struct {
	*sqlx.Tx
	ID    string
	depth int
}

// GetTx returns the transaction open on ctx, if any
func GetTx(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

func (tx *Tx) savepoint() string {
	return fmt.Sprintf("sp_%d", tx.depth)
}

// begin opens a transaction, or a savepoint when ctx already carries one
func (db *DB) begin(ctx context.Context) (context.Context, *Tx, error) {
	if tx, ok := GetTx(ctx); ok {
		tx.depth++
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+tx.savepoint()); err != nil {
			tx.depth--
			return ctx, nil, ierr.WithError(err).
				WithMessage("create savepoint").
				Mark(ierr.ErrDatabase)
		}
		db.logger.Debugw("savepoint created", "tx_id", tx.ID, "depth", tx.depth)
		return ctx, tx, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return ctx, nil, ierr.WithError(err).
			WithMessage("begin transaction").
			Mark(ierr.ErrDatabase)
	}

	tx := &Tx{Tx: sqlxTx, ID: types.GenerateUUID()}
	db.logger.Debugw("transaction started", "tx_id", tx.ID, "tenant_id", types.GetTenantID(ctx))
	return context.WithValue(ctx, txKey{}, tx), tx, nil
}

// end commits or rolls back the innermost level of tx
func (db *DB) end(ctx context.Context, tx *Tx, commit bool) error {
	if tx.depth > 0 {
		stmt := "ROLLBACK TO SAVEPOINT "
		if commit {
			stmt = "RELEASE SAVEPOINT "
		}
		_, err := tx.ExecContext(ctx, stmt+tx.savepoint())
		tx.depth--
		if err != nil {
			return ierr.WithError(err).
				WithMessagef("end savepoint (commit=%t)", commit).
				Mark(ierr.ErrDatabase)
		}
		return nil
	}

	var err error
	if commit {
		err = tx.Commit()
	} else {
		err = tx.Rollback()
	}
	db.logger.Debugw("transaction finished", "tx_id", tx.ID, "committed", commit && err == nil)
	if err != nil {
		return ierr.WithError(err).
			WithMessagef("end transaction (commit=%t)", commit).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// WithTx runs fn in a transaction. fn's error rolls the level back and is
// returned unchanged so callers keep its classification.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := db.begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			db.logger.Errorw("panic in transaction", "tx_id", tx.ID, "panic", r)
			_ = db.end(txCtx, tx, false)
			panic(r)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := db.end(txCtx, tx, false); rbErr != nil {
			db.logger.Errorw("rollback failed", "tx_id", tx.ID, "error", rbErr, "cause", err)
		}
		return err
	}

	return db.end(txCtx, tx, true)
}
