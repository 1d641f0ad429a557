package sqlite

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
)

// LockStream returns the current version of a stream.
//
// SQLite has no row-level locks, the stream is protected by tx itself.
func (driver) LockStream(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n message.StreamName,
) (_ uint64, err error) {
	defer sqlx.Recover(&err)

	row := tx.QueryRowContext(
		ctx,
		`SELECT
			version
		FROM stream
		WHERE store_name = $1
		AND stream_name = $2`,
		store,
		n.String(),
	)

	var v uint64
	sqlx.TryScan(row, &v)

	return v, nil
}

// UpdateStreamVersion changes the version of a stream from c to v.
//
// It returns false if the stream's version is no longer c.
func (driver) UpdateStreamVersion(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n message.StreamName,
	c, v uint64,
) (_ bool, err error) {
	defer sqlx.Recover(&err)

	if c == 0 {
		return sqlx.TryExecRow(
			ctx,
			tx,
			`INSERT INTO stream (
				store_name,
				stream_name,
				stream_type,
				version
			) VALUES (
				$1, $2, $3, $4
			) ON CONFLICT (store_name, stream_name) DO NOTHING`,
			store,
			n.String(),
			n.Type(),
			v,
		), nil
	}

	return sqlx.TryExecRow(
		ctx,
		tx,
		`UPDATE stream SET
			version = $1
		WHERE store_name = $2
		AND stream_name = $3
		AND version = $4`,
		v,
		store,
		n.String(),
		c,
	), nil
}

// UpdateGlobalPosition reserves n global positions and returns the last of
// them.
func (driver) UpdateGlobalPosition(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	n uint64,
) (_ uint64, err error) {
	defer sqlx.Recover(&err)

	p := sqlx.QueryInt64(
		ctx,
		tx,
		`INSERT INTO global_position (
			store_name,
			last_position
		) VALUES (
			$1, $2
		) ON CONFLICT (store_name) DO UPDATE SET
			last_position = last_position + excluded.last_position
		RETURNING last_position`,
		store,
		n,
	)

	return uint64(p), nil
}

// InsertMessage saves a recorded message.
func (driver) InsertMessage(
	ctx context.Context,
	tx *sql.Tx,
	store string,
	m message.Message,
) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO message (
			store_name,
			global_position,
			stream_name,
			stream_position,
			message_id,
			message_kind,
			message_type,
			data,
			recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`,
		store,
		uint64(m.MetaData.GlobalPosition.(position.Sequence)),
		m.MetaData.StreamName.String(),
		m.MetaData.StreamPosition,
		m.MetaData.MessageID,
		m.Kind.Code(),
		m.Type,
		m.Data,
		sqlx.MarshalTime(m.MetaData.RecordedAt),
	)

	return err
}

// SelectStreamVersion returns the current version of a stream.
func (driver) SelectStreamVersion(
	ctx context.Context,
	db sqlx.DB,
	store string,
	n message.StreamName,
) (_ uint64, err error) {
	defer sqlx.Recover(&err)

	row := db.QueryRowContext(
		ctx,
		`SELECT
			version
		FROM stream
		WHERE store_name = $1
		AND stream_name = $2`,
		store,
		n.String(),
	)

	var v uint64
	sqlx.TryScan(row, &v)

	return v, nil
}

// SelectStreamMessages selects the messages in a stream with stream positions
// in the closed interval [from, to].
func (driver) SelectStreamMessages(
	ctx context.Context,
	db sqlx.DB,
	store string,
	n message.StreamName,
	from, to uint64,
) (*sql.Rows, error) {
	return db.QueryContext(
		ctx,
		`SELECT
			global_position,
			stream_name,
			stream_position,
			message_id,
			message_kind,
			message_type,
			data,
			recorded_at
		FROM message
		WHERE store_name = $1
		AND stream_name = $2
		AND stream_position BETWEEN $3 AND $4
		ORDER BY stream_position`,
		store,
		n.String(),
		from,
		to,
	)
}

// SelectGlobalMessages selects up to limit messages with global positions
// after p.
func (driver) SelectGlobalMessages(
	ctx context.Context,
	db sqlx.DB,
	store string,
	p uint64,
	limit int,
) (*sql.Rows, error) {
	return db.QueryContext(
		ctx,
		`SELECT
			global_position,
			stream_name,
			stream_position,
			message_id,
			message_kind,
			message_type,
			data,
			recorded_at
		FROM message
		WHERE store_name = $1
		AND global_position > $2
		ORDER BY global_position
		LIMIT $3`,
		store,
		p,
		limit,
	)
}

// SelectGlobalPosition returns the global position of the most recently
// recorded message.
func (driver) SelectGlobalPosition(
	ctx context.Context,
	db sqlx.DB,
	store string,
) (_ uint64, err error) {
	defer sqlx.Recover(&err)

	row := db.QueryRowContext(
		ctx,
		`SELECT
			last_position
		FROM global_position
		WHERE store_name = $1`,
		store,
	)

	var p uint64
	sqlx.TryScan(row, &p)

	return p, nil
}

// ScanMessage scans the next message from a row-set returned by
// SelectStreamMessages() or SelectGlobalMessages().
func (driver) ScanMessage(rows *sql.Rows, m *message.Message) error {
	var (
		global     uint64
		kind       string
		recordedAt int64
	)

	if err := rows.Scan(
		&global,
		&m.MetaData.StreamName,
		&m.MetaData.StreamPosition,
		&m.MetaData.MessageID,
		&kind,
		&m.Type,
		&m.Data,
		&recordedAt,
	); err != nil {
		return err
	}

	k, err := message.ParseKind(kind)
	if err != nil {
		return err
	}

	m.Kind = k
	m.MetaData.GlobalPosition = position.Sequence(global)
	m.MetaData.RecordedAt = sqlx.UnmarshalTime(recordedAt)

	return nil
}

// createStreamSchema creates the schema elements for streams and messages.
func createStreamSchema(ctx context.Context, db sqlx.DB) {
	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS stream (
			store_name  TEXT NOT NULL,
			stream_name TEXT NOT NULL,
			stream_type TEXT NOT NULL,
			version     INTEGER NOT NULL,

			PRIMARY KEY (store_name, stream_name)
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS global_position (
			store_name    TEXT NOT NULL PRIMARY KEY,
			last_position INTEGER NOT NULL
		)`,
	)

	sqlx.Exec(
		ctx,
		db,
		`CREATE TABLE IF NOT EXISTS message (
			store_name      TEXT NOT NULL,
			global_position INTEGER NOT NULL,
			stream_name     TEXT NOT NULL,
			stream_position INTEGER NOT NULL,
			message_id      TEXT NOT NULL,
			message_kind    CHAR(1) NOT NULL,
			message_type    TEXT NOT NULL,
			data            BLOB,
			recorded_at     INTEGER NOT NULL,

			PRIMARY KEY (store_name, global_position),
			UNIQUE (store_name, stream_name, stream_position)
		)`,
	)
}
