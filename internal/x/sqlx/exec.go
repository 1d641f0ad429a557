package sqlx

import (
	"context"
	"database/sql"
)

// Exec executes a statement on the given DB.
func Exec(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) sql.Result {
	res, err := db.ExecContext(ctx, query, args...)
	Must(err)
	return res
}

// ExecN executes a statement on the given DB and returns the number of rows
// affected.
func ExecN(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) int64 {
	res := Exec(ctx, db, query, args...)

	n, err := res.RowsAffected()
	Must(err)

	return n
}

// TryExecRow executes a statement on the given DB and returns true if it
// affected exactly one row.
//
// It is used for conditional inserts and updates, where affecting no rows
// means the precondition was not met.
func TryExecRow(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) bool {
	return ExecN(ctx, db, query, args...) == 1
}
