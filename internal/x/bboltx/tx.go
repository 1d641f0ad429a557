package bboltx

import (
	"context"

	"go.etcd.io/bbolt"
)

// View calls fn within a read-only transaction.
//
// Panics raised by the Must helpers within fn are converted to errors.
func View(ctx context.Context, db *bbolt.DB, fn func(tx *bbolt.Tx)) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.View(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)
		fn(tx)
		return nil
	})
}

// Update calls fn within a read-write transaction.
//
// The transaction is committed if fn returns normally. Panics raised by the
// Must helpers within fn roll the transaction back and are converted to
// errors.
func Update(ctx context.Context, db *bbolt.DB, fn func(tx *bbolt.Tx)) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) (err error) {
		defer Recover(&err)
		fn(tx)
		return nil
	})
}
