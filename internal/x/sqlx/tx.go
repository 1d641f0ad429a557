package sqlx

import (
	"context"
	"database/sql"
)

// Begin starts a new transaction.
func Begin(ctx context.Context, db *sql.DB) *sql.Tx {
	tx, err := db.BeginTx(ctx, nil)
	Must(err)
	return tx
}

// Commit commits the given transaction.
func Commit(tx *sql.Tx) {
	Must(tx.Commit())
}

// WithTx calls fn within a transaction started by begin.
//
// The transaction is committed if fn returns normally, and rolled back if it
// returns an error or panics.
func WithTx(
	ctx context.Context,
	db *sql.DB,
	begin func(context.Context, *sql.DB) (*sql.Tx, error),
	fn func(*sql.Tx) error,
) (err error) {
	defer Recover(&err)

	tx, err := begin(ctx, db)
	Must(err)
	defer tx.Rollback() // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}

	Commit(tx)

	return nil
}
