package sqlite

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/persistence"
)

// SelectCheckpoint returns the stored form of a checkpoint.
func (driver) SelectCheckpoint(
	ctx context.Context,
	db sqlx.DB,
	store string,
	k persistence.CheckpointKey,
) (_ string, _ bool, err error) {
	defer sqlx.Recover(&err)

	row := db.QueryRowContext(
		ctx,
		`SELECT
			position
		FROM checkpoint
		WHERE store_name = $1
		AND partition = $2
		AND processor_id = $3
		AND version = $4`,
		store,
		k.Partition,
		k.ProcessorID,
		k.Version,
	)

	var p string
	ok := sqlx.TryScan(row, &p)

	return p, ok, nil
}

// LockCheckpoint returns the stored form of a checkpoint.
//
// SQLite has no row-level locks, the checkpoint is protected by tx itself.
func (driver) LockCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
) (_ string, _ bool, err error) {
	defer sqlx.Recover(&err)

	row := tx.QueryRowContext(
		ctx,
		`SELECT
			position
		FROM checkpoint
		WHERE store_name = $1
		AND partition = $2
		AND processor_id = $3
		AND version = $4`,
		store,
		k.Partition,
		k.ProcessorID,
		k.Version,
	)

	var p string
	ok := sqlx.TryScan(row, &p)

	return p, ok, nil
}

// InsertCheckpoint saves a new checkpoint.
//
// It returns false if the checkpoint already exists.
func (driver) InsertCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
	p string,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	return sqlx.TryExecRow(
		ctx,
		tx,
		`INSERT INTO checkpoint (
			store_name,
			partition,
			processor_id,
			version,
			position
		) VALUES (
			$1, $2, $3, $4, $5
		) ON CONFLICT (store_name, partition, processor_id, version) DO NOTHING`,
		store,
		k.Partition,
		k.ProcessorID,
		k.Version,
		p,
	), nil
}

// UpdateCheckpoint replaces an existing checkpoint.
func (driver) UpdateCheckpoint(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	k persistence.CheckpointKey,
	p string,
) error {
	_, err := tx.ExecContext(
		ctx,
		`UPDATE checkpoint SET
			position = $1
		WHERE store_name = $2
		AND partition = $3
		AND processor_id = $4
		AND version = $5`,
		p,
		store,
		k.Partition,
		k.ProcessorID,
		k.Version,
	)

	return err
}

// createCheckpointSchema creates the schema elements for checkpoints.
func createCheckpointSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS checkpoint (
			store_name   TEXT NOT NULL,
			partition    TEXT NOT NULL,
			processor_id TEXT NOT NULL,
			version      INTEGER NOT NULL,
			position     TEXT NOT NULL,

			PRIMARY KEY (store_name, partition, processor_id, version)
		)`,
	)
}
