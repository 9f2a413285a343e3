package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TransactionManager implements ports.TransactionManager over a Store.
type TransactionManager struct {
	store *Store
}

func NewTransactionManager(store *Store) *TransactionManager {
	return &TransactionManager{store: store}
}

// WithTransaction runs fn with a *sql.Tx in its context. Nested calls join
// the outer transaction.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, open := ctx.Value(txKey).(*sql.Tx); open {
		return fn(ctx)
	}

	tx, err := tm.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		rbErr := tx.Rollback()
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction aborted by panic: %v", r)
		}
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	if err = fn(context.WithValue(ctx, txKey, tx)); err != nil {
		return err
	}

	finished = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
