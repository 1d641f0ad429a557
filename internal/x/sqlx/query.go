package sqlx

import (
	"context"
	"database/sql"
	"errors"
)

// QueryInto executes single-column, single-row query on the given DB and scans
// the result into a value.
func QueryInto(
	ctx context.Context,
	db DB,
	value interface{},
	query string,
	args ...interface{},
) {
	row := db.QueryRowContext(ctx, query, args...)
	Must(row.Scan(value))
}

// QueryInt64 executes a single-column, single-row query on the given DB and
// returns a single int64 result.
func QueryInt64(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) (v int64) {
	QueryInto(ctx, db, &v, query, args...)
	return v
}

// QueryBool executes a single-column, single-row query on the given DB and
// returns a single bool result.
func QueryBool(
	ctx context.Context,
	db DB,
	query string,
	args ...interface{},
) (v bool) {
	QueryInto(ctx, db, &v, query, args...)
	return v
}

// TryScan scans a row into the given values.
//
// It returns false if there is no row.
func TryScan(row *sql.Row, values ...interface{}) bool {
	err := row.Scan(values...)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}

	Must(err)
	return true
}
