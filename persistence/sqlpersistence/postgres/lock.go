package postgres

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/persistence"
)

// TryLockKey attempts to acquire a transaction-scoped advisory lock on hash.
func (driver) TryLockKey(
	ctx context.Context,
	tx *sql.Tx,
	hash int64,
	shared bool,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	if shared {
		return sqlx.QueryBool(
			ctx,
			tx,
			`SELECT pg_try_advisory_xact_lock_shared($1)`,
			hash,
		), nil
	}

	return sqlx.QueryBool(
		ctx,
		tx,
		`SELECT pg_try_advisory_xact_lock($1)`,
		hash,
	), nil
}

// SelectLockRecord returns a lock record.
func (driver) SelectLockRecord(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	o persistence.LockOptions,
) (_ persistence.LockRecord, _ bool, err error) {
	defer sqlx.Recover(&err)

	row := tx.QueryRowContext(
		ctx,
		`SELECT
			status,
			owner_instance_id,
			last_updated
		FROM ledger.lock_record
		WHERE store_name = $1
		AND record_type = $2
		AND lock_key = $3`,
		store,
		recordType(o),
		o.Key(),
	)

	var (
		rec         persistence.LockRecord
		lastUpdated int64
	)

	ok := sqlx.TryScan(
		row,
		&rec.Status,
		&rec.OwnerInstanceID,
		&lastUpdated,
	)
	rec.LastUpdated = sqlx.UnmarshalTime(lastUpdated)

	return rec, ok, nil
}

// UpsertLockRecord saves a lock record.
func (driver) UpsertLockRecord(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	o persistence.LockOptions,
	rec persistence.LockRecord,
) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO ledger.lock_record (
			store_name,
			record_type,
			lock_key,
			status,
			owner_instance_id,
			last_updated
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) ON CONFLICT (store_name, record_type, lock_key) DO UPDATE SET
			status = excluded.status,
			owner_instance_id = excluded.owner_instance_id,
			last_updated = excluded.last_updated`,
		store,
		recordType(o),
		o.Key(),
		string(rec.Status),
		rec.OwnerInstanceID,
		sqlx.MarshalTime(rec.LastUpdated),
	)

	return err
}

// UpdateLockRecord replaces a lock record that is exclusively held by owner.
func (driver) UpdateLockRecord(
	ctx context.Context,
	db sqlx.DB,
	store string,
	o persistence.LockOptions,
	owner string,
	rec persistence.LockRecord,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		db,
		`UPDATE ledger.lock_record SET
			status = $1,
			owner_instance_id = $2,
			last_updated = $3
		WHERE store_name = $4
		AND record_type = $5
		AND lock_key = $6
		AND owner_instance_id = $7
		AND status IN ($8, $9)`,
		string(rec.Status),
		rec.OwnerInstanceID,
		sqlx.MarshalTime(rec.LastUpdated),
		store,
		recordType(o),
		o.Key(),
		owner,
		string(persistence.StatusRunning),
		string(persistence.StatusAsyncProcessing),
	), nil
}

func recordType(o persistence.LockOptions) string {
	if o.IsProjection() {
		return "projection"
	}
	return "processor"
}

// createLockSchema creates the schema elements for processor and projection
// locks.
func createLockSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS ledger.lock_record (
			store_name        TEXT NOT NULL,
			record_type       TEXT NOT NULL,
			lock_key          TEXT NOT NULL,
			status            TEXT NOT NULL,
			owner_instance_id TEXT NOT NULL,
			last_updated      BIGINT NOT NULL,

			PRIMARY KEY (store_name, record_type, lock_key)
		)`,
	)
}
