package main

import (
	"context"
	"database/sql"
	"time"

	"signals/internal/questionnaire/service"
	"signals/internal/questionnaire/store/postgres"
	dErrors "signals/pkg/domain-errors"
)

const defaultSessionTxTimeout = 5 * time.Second

// sessionPostgresTx runs service transactions on a database transaction;
// the session row lock taken inside fn serializes writers of one session.
type sessionPostgresTx struct {
	db      *sql.DB
	store   *postgres.Store
	timeout time.Duration
}

func newSessionPostgresTx(db *sql.DB, store *postgres.Store, timeout time.Duration) *sessionPostgresTx {
	return &sessionPostgresTx{db: db, store: store, timeout: timeout}
}

func (t *sessionPostgresTx) RunInTx(ctx context.Context, fn func(store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultSessionTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(t.store.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction timed out")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit transaction")
	}
	return nil
}
