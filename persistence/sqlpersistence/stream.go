package sqlpersistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.uber.org/multierr"
)

// errConcurrentCreate indicates that the stream was created by a concurrent
// transaction after it was found not to exist.
var errConcurrentCreate = errors.New("stream was created concurrently")

// Append appends messages to the stream named n.
func (ds *dataStore) Append(
	ctx context.Context,
	n message.StreamName,
	messages []message.Message,
	opts ...persistence.AppendOption,
) (_ persistence.AppendResult, err error) {
	ctx, span := tracing.Start(
		ctx,
		"append",
		tracing.StreamNameKey.String(n.String()),
		tracing.MessageCountKey.Int(len(messages)),
	)
	defer func() { tracing.End(span, err) }()

	if err := persistence.ValidateAppend(messages); err != nil {
		return persistence.AppendResult{}, err
	}

	o := persistence.NewAppendOptions(opts)

	var (
		recorded []message.Message
		current  uint64
	)

	for {
		err = ds.withTx(
			ctx,
			func(ctx context.Context, tx *sql.Tx) (err error) {
				recorded, current, err = ds.append(ctx, tx, n, messages, o)
				return err
			},
		)

		// The stream exists now, so the next attempt either locks it or
		// reports a conflict.
		if err == errConcurrentCreate {
			continue
		}

		if err != nil {
			return persistence.AppendResult{}, err
		}

		break
	}

	ds.opts.Hooks.Committed(ctx, recorded)

	return persistence.AppendResult{
		NextVersion:      current + uint64(len(recorded)),
		CreatedNewStream: current == 0,
		Messages:         recorded,
	}, nil
}

// append records messages and applies inline projections within tx.
func (ds *dataStore) append(
	ctx context.Context,
	tx *sql.Tx,
	n message.StreamName,
	messages []message.Message,
	o persistence.AppendOptions,
) ([]message.Message, uint64, error) {
	current, err := ds.driver.LockStream(ctx, tx, ds.name, n)
	if err != nil {
		return nil, 0, err
	}

	if err := o.ExpectedVersion.Check(n, current); err != nil {
		return nil, 0, err
	}

	count := uint64(len(messages))

	ok, err := ds.driver.UpdateStreamVersion(ctx, tx, ds.name, n, current, current+count)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, errConcurrentCreate
	}

	last, err := ds.driver.UpdateGlobalPosition(ctx, tx, ds.name, count)
	if err != nil {
		return nil, 0, err
	}

	first := last - count + 1
	now := ds.opts.Now()
	recorded := make([]message.Message, len(messages))

	for i, m := range messages {
		recorded[i] = message.Record(
			m,
			n,
			current+uint64(i)+1,
			position.Sequence(first+uint64(i)),
			now,
		)

		if err := ds.driver.InsertMessage(ctx, tx, ds.name, recorded[i]); err != nil {
			return nil, 0, err
		}
	}

	docs := &txDocuments{
		ds:     ds,
		tx:     tx,
		stream: n,
	}

	if err := ds.opts.Hooks.Project(ctx, docs, recorded); err != nil {
		return nil, 0, err
	}

	return recorded, current, nil
}

// Read returns the messages in the stream named n.
func (ds *dataStore) Read(
	ctx context.Context,
	n message.StreamName,
	opts ...persistence.ReadOption,
) (res persistence.ReadResult, _ error) {
	o := persistence.NewReadOptions(opts)

	return res, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			current, err := ds.driver.SelectStreamVersion(ctx, db, ds.name, n)
			if err != nil {
				return err
			}

			if err := o.ExpectedVersion.Check(n, current); err != nil {
				return err
			}

			res.CurrentVersion = current
			res.StreamExists = current != 0

			if current == 0 {
				return nil
			}

			from, to := o.From, o.To
			if from == 0 {
				from = 1
			}
			if to == 0 || to > current {
				to = current
			}
			if from > to {
				return nil
			}

			rows, err := ds.driver.SelectStreamMessages(ctx, db, ds.name, n, from, to)
			if err != nil {
				return err
			}

			res.Messages, err = ds.scanMessages(rows)
			return err
		},
	)
}

// ReadProjection returns the document produced by the named inline projection
// for the stream named n.
func (ds *dataStore) ReadProjection(
	ctx context.Context,
	projection string,
	n message.StreamName,
) (doc []byte, _ error) {
	return doc, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) (err error) {
			doc, err = ds.driver.SelectProjection(ctx, db, ds.name, projection, n)
			return err
		},
	)
}

// ReadAll returns up to limit messages recorded after the given position.
func (ds *dataStore) ReadAll(
	ctx context.Context,
	after position.Token,
	limit int,
) (messages []message.Message, _ error) {
	var p uint64

	if after != nil {
		s, ok := after.(position.Sequence)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T position", position.ErrIllegalState, after)
		}
		p = uint64(s)
	}

	if limit <= 0 {
		limit = math.MaxInt32
	}

	return messages, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			rows, err := ds.driver.SelectGlobalMessages(ctx, db, ds.name, p, limit)
			if err != nil {
				return err
			}

			messages, err = ds.scanMessages(rows)
			return err
		},
	)
}

// Head returns the position of the most recently recorded message.
func (ds *dataStore) Head(ctx context.Context) (head position.Token, _ error) {
	return head, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			p, err := ds.driver.SelectGlobalPosition(ctx, db, ds.name)
			if p != 0 {
				head = position.Sequence(p)
			}
			return err
		},
	)
}

// scanMessages scans all messages in rows and closes it.
func (ds *dataStore) scanMessages(rows *sql.Rows) (messages []message.Message, err error) {
	defer func() {
		err = multierr.Append(err, rows.Close())
	}()

	for rows.Next() {
		var m message.Message
		if err := ds.driver.ScanMessage(rows, &m); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// txDocuments is an implementation of persistence.ProjectionDocuments that
// reads and writes projection documents within a transaction.
type txDocuments struct {
	ds     *dataStore
	tx     *sql.Tx
	stream message.StreamName
}

func (d *txDocuments) LoadProjection(ctx context.Context, p string) ([]byte, error) {
	return d.ds.driver.SelectProjection(ctx, d.tx, d.ds.name, p, d.stream)
}

func (d *txDocuments) SaveProjection(ctx context.Context, p string, doc []byte) error {
	if doc == nil {
		return d.ds.driver.DeleteProjection(ctx, d.tx, d.ds.name, p, d.stream)
	}
	return d.ds.driver.UpsertProjection(ctx, d.tx, d.ds.name, p, d.stream, doc)
}
