package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// queryCanceled is the SQLSTATE code reported when a statement is canceled.
const queryCanceled = "57014"

// convertContextErrors converts a "query_canceled" error into the error from
// ctx, if ctx is done.
//
// Both pgx and lib/pq report their own error when the context is canceled
// after a statement has been sent to the server.
func convertContextErrors(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) && pgxErr.Code == queryCanceled {
		return ctx.Err()
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == queryCanceled {
		return ctx.Err()
	}

	if strings.Contains(err.Error(), "canceling statement due to user request") {
		return ctx.Err()
	}

	return err
}

// errorConverter is an implementation of sqlpersistence.Driver that decorates
// the PostgreSQL driver in order to convert native "query_canceled" errors
// into regular context.Canceled / DeadlineExceeded errors.
//
// Every method of the driver is decorated here so that conversions don't get
// missed when new methods are added to the interface.
type errorConverter struct {
	d driver
}

func (d errorConverter) IsCompatibleWith(ctx context.Context, db *sql.DB) error {
	err := d.d.IsCompatibleWith(ctx, db)
	return convertContextErrors(ctx, err)
}

func (d errorConverter) Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
	tx, err := d.d.Begin(ctx, db)
	return tx, convertContextErrors(ctx, err)
}

func (d errorConverter) CreateSchema(ctx context.Context, db *sql.DB) error {
	err := d.d.CreateSchema(ctx, db)
	return convertContextErrors(ctx, err)
}

func (d errorConverter) DropSchema(ctx context.Context, db *sql.DB) error {
	err := d.d.DropSchema(ctx, db)
	return convertContextErrors(ctx, err)
}

//
// stream
//

func (d errorConverter) LockStream(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n message.StreamName,
) (uint64, error) {
	v, err := d.d.LockStream(ctx, tx, store, n)
	return v, convertContextErrors(ctx, err)
}

func (d errorConverter) UpdateStreamVersion(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n message.StreamName,
	c, v uint64,
) (bool, error) {
	ok, err := d.d.UpdateStreamVersion(ctx, tx, store, n, c, v)
	return ok, convertContextErrors(ctx, err)
}

func (d errorConverter) UpdateGlobalPosition(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n uint64,
) (uint64, error) {
	p, err := d.d.UpdateGlobalPosition(ctx, tx, store, n)
	return p, convertContextErrors(ctx, err)
}

func (d errorConverter) InsertMessage(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	m message.Message,
) error {
	err := d.d.InsertMessage(ctx, tx, store, m)
	return convertContextErrors(ctx, err)
}

func (d errorConverter) SelectStreamVersion(
	ctx context.Context,
	db sqlx.DB,
	store string,
	n message.StreamName,
) (uint64, error) {
	v, err := d.d.SelectStreamVersion(ctx, db, store, n)
	return v, convertContextErrors(ctx, err)
}

func (d errorConverter) SelectStreamMessages(
	ctx context.Context,
	db sqlx.DB,
	store string,
	n message.StreamName,
	from, to uint64,
) (*sql.Rows, error) {
	rows, err := d.d.SelectStreamMessages(ctx, db, store, n, from, to)
	return rows, convertContextErrors(ctx, err)
}

func (d errorConverter) SelectGlobalMessages(
	ctx context.Context,
	db sqlx.DB,
	store string,
	p uint64,
	limit int,
) (*sql.Rows, error) {
	rows, err := d.d.SelectGlobalMessages(ctx, db, store, p, limit)
	return rows, convertContextErrors(ctx, err)
}

func (d errorConverter) SelectGlobalPosition(
	ctx context.Context,
	db sqlx.DB,
	store string,
) (uint64, error) {
	p, err := d.d.SelectGlobalPosition(ctx, db, store)
	return p, convertContextErrors(ctx, err)
}

func (d errorConverter) ScanMessage(rows *sql.Rows, m *message.Message) error {
	return d.d.ScanMessage(rows, m)
}

//
// projection
//

func (d errorConverter) SelectProjection(
	ctx context.Context,
	db sqlx.DB,
	store, projection string,
	n message.StreamName,
) ([]byte, error) {
	doc, err := d.d.SelectProjection(ctx, db, store, projection, n)
	return doc, convertContextErrors(ctx, err)
}

func (d errorConverter) UpsertProjection(
	ctx context.Context,
	tx *sql.Tx,
	store, projection string,
	n message.StreamName,
	doc []byte,
) error {
	err := d.d.UpsertProjection(ctx, tx, store, projection, n, doc)
	return convertContextErrors(ctx, err)
}

func (d errorConverter) DeleteProjection(
	ctx context.Context,
	tx *sql.Tx,
	store, projection string,
	n message.StreamName,
) error {
	err := d.d.DeleteProjection(ctx, tx, store, projection, n)
	return convertContextErrors(ctx, err)
}

//
// checkpoint
//

func (d errorConverter) SelectCheckpoint(
	ctx context.Context,
	db sqlx.DB,
	store string,
	k persistence.CheckpointKey,
) (string, bool, error) {
	p, ok, err := d.d.SelectCheckpoint(ctx, db, store, k)
	return p, ok, convertContextErrors(ctx, err)
}

func (d errorConverter) LockCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
) (string, bool, error) {
	p, ok, err := d.d.LockCheckpoint(ctx, tx, store, k)
	return p, ok, convertContextErrors(ctx, err)
}

func (d errorConverter) InsertCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
	p string,
) (bool, error) {
	ok, err := d.d.InsertCheckpoint(ctx, tx, store, k, p)
	return ok, convertContextErrors(ctx, err)
}

func (d errorConverter) UpdateCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
	p string,
) error {
	err := d.d.UpdateCheckpoint(ctx, tx, store, k, p)
	return convertContextErrors(ctx, err)
}

//
// lock
//

func (d errorConverter) TryLockKey(
	ctx context.Context,
	tx *sql.Tx,
	hash int64,
	shared bool,
) (bool, error) {
	ok, err := d.d.TryLockKey(ctx, tx, hash, shared)
	return ok, convertContextErrors(ctx, err)
}

func (d errorConverter) SelectLockRecord(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	o persistence.LockOptions,
) (persistence.LockRecord, bool, error) {
	rec, ok, err := d.d.SelectLockRecord(ctx, tx, store, o)
	return rec, ok, convertContextErrors(ctx, err)
}

func (d errorConverter) UpsertLockRecord(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	o persistence.LockOptions,
	rec persistence.LockRecord,
) error {
	err := d.d.UpsertLockRecord(ctx, tx, store, o, rec)
	return convertContextErrors(ctx, err)
}

func (d errorConverter) UpdateLockRecord(
	ctx context.Context,
	db sqlx.DB,
	store string,
	o persistence.LockOptions,
	owner string,
	rec persistence.LockRecord,
) (bool, error) {
	ok, err := d.d.UpdateLockRecord(ctx, db, store, o, owner, rec)
	return ok, convertContextErrors(ctx, err)
}
