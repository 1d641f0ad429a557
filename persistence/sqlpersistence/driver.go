package sqlpersistence

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
)

// Driver is used to interface with the underlying SQL database.
type Driver interface {
	StreamDriver
	ProjectionDriver
	CheckpointDriver
	LockDriver

	// IsCompatibleWith returns nil if this driver can be used with db.
	IsCompatibleWith(ctx context.Context, db *sql.DB) error

	// Begin starts a transaction.
	Begin(ctx context.Context, db *sql.DB) (*sql.Tx, error)

	// CreateSchema creates any SQL schema elements required by the driver.
	CreateSchema(ctx context.Context, db *sql.DB) error

	// DropSchema removes any SQL schema elements created by CreateSchema().
	DropSchema(ctx context.Context, db *sql.DB) error
}

// StreamDriver is the subset of the Driver interface that is concerned with
// streams and their messages.
type StreamDriver interface {
	// LockStream locks the stream for the remainder of tx and returns its
	// current version. The version of a stream that does not exist is zero.
	LockStream(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		n message.StreamName,
	) (uint64, error)

	// UpdateStreamVersion changes the version of a stream from c to v.
	//
	// It returns false if the stream's version is no longer c, which occurs
	// when a concurrent transaction creates the stream.
	UpdateStreamVersion(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		n message.StreamName,
		c, v uint64,
	) (bool, error)

	// UpdateGlobalPosition reserves n global positions and returns the last of
	// them.
	//
	// The reservation locks the store's position counter until tx ends, which
	// means that global positions are allocated in commit order.
	UpdateGlobalPosition(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		n uint64,
	) (uint64, error)

	// InsertMessage saves a recorded message.
	InsertMessage(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		m message.Message,
	) error

	// SelectStreamVersion returns the current version of a stream without
	// locking it.
	SelectStreamVersion(
		ctx context.Context,
		db sqlx.DB,
		store string,
		n message.StreamName,
	) (uint64, error)

	// SelectStreamMessages selects the messages in a stream with stream
	// positions in the closed interval [from, to], in order.
	SelectStreamMessages(
		ctx context.Context,
		db sqlx.DB,
		store string,
		n message.StreamName,
		from, to uint64,
	) (*sql.Rows, error)

	// SelectGlobalMessages selects up to limit messages with global positions
	// after p, in order.
	SelectGlobalMessages(
		ctx context.Context,
		db sqlx.DB,
		store string,
		p uint64,
		limit int,
	) (*sql.Rows, error)

	// SelectGlobalPosition returns the global position of the most recently
	// recorded message, or zero if there are no messages.
	SelectGlobalPosition(
		ctx context.Context,
		db sqlx.DB,
		store string,
	) (uint64, error)

	// ScanMessage scans the next message from a row-set returned by
	// SelectStreamMessages() or SelectGlobalMessages().
	ScanMessage(rows *sql.Rows, m *message.Message) error
}

// ProjectionDriver is the subset of the Driver interface that is concerned
// with inline projection documents.
type ProjectionDriver interface {
	// SelectProjection returns the document produced by an inline projection
	// for a stream. It returns nil if there is no document.
	SelectProjection(
		ctx context.Context,
		db sqlx.DB,
		store, projection string,
		n message.StreamName,
	) ([]byte, error)

	// UpsertProjection saves the document produced by an inline projection
	// for a stream.
	UpsertProjection(
		ctx context.Context,
		tx *sql.Tx,
		store, projection string,
		n message.StreamName,
		doc []byte,
	) error

	// DeleteProjection deletes the document produced by an inline projection
	// for a stream.
	DeleteProjection(
		ctx context.Context,
		tx *sql.Tx,
		store, projection string,
		n message.StreamName,
	) error
}

// CheckpointDriver is the subset of the Driver interface that is concerned
// with processor checkpoints.
type CheckpointDriver interface {
	// SelectCheckpoint returns the stored form of a checkpoint.
	//
	// It returns false if there is no checkpoint.
	SelectCheckpoint(
		ctx context.Context,
		db sqlx.DB,
		store string,
		k persistence.CheckpointKey,
	) (string, bool, error)

	// LockCheckpoint is equivalent to SelectCheckpoint(), except that the
	// checkpoint row is locked until tx ends.
	LockCheckpoint(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		k persistence.CheckpointKey,
	) (string, bool, error)

	// InsertCheckpoint saves a new checkpoint.
	//
	// It returns false if the checkpoint already exists.
	InsertCheckpoint(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		k persistence.CheckpointKey,
		p string,
	) (bool, error)

	// UpdateCheckpoint replaces an existing checkpoint.
	UpdateCheckpoint(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		k persistence.CheckpointKey,
		p string,
	) error
}

// LockDriver is the subset of the Driver interface that is concerned with
// processor and projection locks.
type LockDriver interface {
	// TryLockKey attempts to serialize access to the lock record identified
	// by hash for the remainder of tx.
	//
	// It returns false if a conflicting transaction holds the key.
	TryLockKey(
		ctx context.Context,
		tx *sql.Tx,
		hash int64,
		shared bool,
	) (bool, error)

	// SelectLockRecord returns a lock record.
	//
	// It returns false if there is no such record.
	SelectLockRecord(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		o persistence.LockOptions,
	) (persistence.LockRecord, bool, error)

	// UpsertLockRecord saves a lock record.
	UpsertLockRecord(
		ctx context.Context,
		tx *sql.Tx,
		store string,
		o persistence.LockOptions,
		rec persistence.LockRecord,
	) error

	// UpdateLockRecord replaces a lock record that is exclusively held by
	// owner.
	//
	// It returns false if no such record exists.
	UpdateLockRecord(
		ctx context.Context,
		db sqlx.DB,
		store string,
		o persistence.LockOptions,
		owner string,
		rec persistence.LockRecord,
	) (bool, error)
}
