package postgres

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/message"
)

// SelectProjection returns the document produced by an inline projection for
// a stream.
func (driver) SelectProjection(
	ctx context.Context,
	db sqlx.DB,
	store, projection string,
	n message.StreamName,
) (_ []byte, err error) {
	defer sqlx.Recover(&err)

	row := db.QueryRowContext(
		ctx,
		`SELECT
			document
		FROM ledger.projection
		WHERE store_name = $1
		AND projection_name = $2
		AND stream_name = $3`,
		store,
		projection,
		n.String(),
	)

	var doc []byte
	sqlx.TryScan(row, &doc)

	return doc, nil
}

// UpsertProjection saves the document produced by an inline projection for a
// stream.
func (driver) UpsertProjection(
	ctx context.Context,
	tx *sql.Tx,
	store, projection string,
	n message.StreamName,
	doc []byte,
) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO ledger.projection (
			store_name,
			projection_name,
			stream_name,
			document
		) VALUES (
			$1, $2, $3, $4
		) ON CONFLICT (store_name, projection_name, stream_name) DO UPDATE SET
			document = excluded.document`,
		store,
		projection,
		n.String(),
		doc,
	)

	return err
}

// DeleteProjection deletes the document produced by an inline projection for
// a stream.
func (driver) DeleteProjection(
	ctx context.Context,
	tx *sql.Tx,
	store, projection string,
	n message.StreamName,
) error {
	_, err := tx.ExecContext(
		ctx,
		`DELETE FROM ledger.projection
		WHERE store_name = $1
		AND projection_name = $2
		AND stream_name = $3`,
		store,
		projection,
		n.String(),
	)

	return err
}

// createProjectionSchema creates the schema elements for inline projection
// documents.
func createProjectionSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS ledger.projection (
			store_name      TEXT NOT NULL,
			projection_name TEXT NOT NULL,
			stream_name     TEXT NOT NULL,
			document        BYTEA NOT NULL,

			PRIMARY KEY (store_name, projection_name, stream_name)
		)`,
	)
}
