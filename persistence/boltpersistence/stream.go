package boltpersistence

import (
	"context"
	"fmt"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.etcd.io/bbolt"
)

var (
	// messageBucketKey is the key for the bucket that contains every recorded
	// message.
	//
	// The keys are global positions encoded as 8-byte big-endian packets. The
	// bucket's sequence is used to allocate them. The values are messages
	// marshaled by marshalMessage().
	messageBucketKey = []byte("message")

	// streamBucketKey is the key for the bucket that contains a child bucket
	// for each stream.
	//
	// The keys of each child bucket are stream positions, the values are the
	// corresponding global positions. Both are encoded as 8-byte big-endian
	// packets.
	streamBucketKey = []byte("stream")

	// projectionBucketKey is the key for the bucket that contains a child
	// bucket for each inline projection.
	//
	// The keys of each child bucket are stream names, the values are the
	// projection's documents.
	projectionBucketKey = []byte("projection")
)

// Append appends messages to the stream named n.
func (ds *dataStore) Append(
	ctx context.Context,
	n message.StreamName,
	messages []message.Message,
	opts ...persistence.AppendOption,
) (persistence.AppendResult, error) {
	if err := persistence.ValidateAppend(messages); err != nil {
		return persistence.AppendResult{}, err
	}

	o := persistence.NewAppendOptions(opts)

	var (
		recorded []message.Message
		current  uint64
	)

	if err := ds.update(
		ctx,
		func(root *bbolt.Bucket) {
			stream := bboltx.CreateBucketIfNotExists(root, streamBucketKey, []byte(n))
			current = lastKey(stream)

			bboltx.Must(o.ExpectedVersion.Check(n, current))

			global := bboltx.CreateBucketIfNotExists(root, messageBucketKey)
			now := ds.opts.Now()
			recorded = make([]message.Message, len(messages))

			for i, m := range messages {
				p := bboltx.NextSequence(global)

				recorded[i] = message.Record(
					m,
					n,
					current+uint64(i)+1,
					position.Sequence(p),
					now,
				)

				bboltx.Put(
					global,
					bboltx.MarshalUint64(p),
					marshalMessage(recorded[i]),
				)

				bboltx.Put(
					stream,
					bboltx.MarshalUint64(recorded[i].MetaData.StreamPosition),
					bboltx.MarshalUint64(p),
				)
			}

			bboltx.Must(
				ds.opts.Hooks.Project(
					ctx,
					&bucketDocuments{root, n},
					recorded,
				),
			)
		},
	); err != nil {
		return persistence.AppendResult{}, err
	}

	ds.opts.Hooks.Committed(ctx, recorded)

	return persistence.AppendResult{
		NextVersion:      current + uint64(len(recorded)),
		CreatedNewStream: current == 0,
		Messages:         recorded,
	}, nil
}

// Read returns the messages in the stream named n.
func (ds *dataStore) Read(
	ctx context.Context,
	n message.StreamName,
	opts ...persistence.ReadOption,
) (res persistence.ReadResult, err error) {
	defer bboltx.Recover(&err)

	o := persistence.NewReadOptions(opts)

	bboltx.Must(ds.view(
		ctx,
		func(root *bbolt.Bucket) {
			stream := bboltx.Bucket(root, streamBucketKey, []byte(n))
			if stream == nil {
				return
			}

			res.CurrentVersion = lastKey(stream)
			res.StreamExists = res.CurrentVersion != 0

			global := bboltx.Bucket(root, messageBucketKey)
			c := stream.Cursor()

			for k, v := c.Seek(bboltx.MarshalUint64(o.From)); k != nil; k, v = c.Next() {
				if !o.Includes(unmarshalUint64(k)) {
					break
				}

				p := unmarshalUint64(v)
				res.Messages = append(
					res.Messages,
					unmarshalMessage(p, global.Get(v)),
				)
			}
		},
	))

	if err := o.ExpectedVersion.Check(n, res.CurrentVersion); err != nil {
		return persistence.ReadResult{}, err
	}

	return res, nil
}

// ReadProjection returns the document produced by the named inline projection
// for the stream named n.
func (ds *dataStore) ReadProjection(
	ctx context.Context,
	projection string,
	n message.StreamName,
) (doc []byte, _ error) {
	return doc, ds.view(
		ctx,
		func(root *bbolt.Bucket) {
			doc, _ = (&bucketDocuments{root, n}).LoadProjection(ctx, projection)
		},
	)
}

// ReadAll returns up to limit messages recorded after the given position.
func (ds *dataStore) ReadAll(
	ctx context.Context,
	after position.Token,
	limit int,
) (messages []message.Message, _ error) {
	var begin uint64

	if after != nil {
		s, ok := after.(position.Sequence)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T position", position.ErrIllegalState, after)
		}
		begin = uint64(s)
	}

	return messages, ds.view(
		ctx,
		func(root *bbolt.Bucket) {
			global := bboltx.Bucket(root, messageBucketKey)
			if global == nil {
				return
			}

			c := global.Cursor()

			for k, v := c.Seek(bboltx.MarshalUint64(begin + 1)); k != nil; k, v = c.Next() {
				if limit > 0 && len(messages) == limit {
					break
				}

				messages = append(
					messages,
					unmarshalMessage(unmarshalUint64(k), v),
				)
			}
		},
	)
}

// Head returns the position of the most recently recorded message.
func (ds *dataStore) Head(ctx context.Context) (head position.Token, _ error) {
	return head, ds.view(
		ctx,
		func(root *bbolt.Bucket) {
			global := bboltx.Bucket(root, messageBucketKey)
			if global == nil {
				return
			}

			if p := lastKey(global); p != 0 {
				head = position.Sequence(p)
			}
		},
	)
}

// lastKey returns the largest key in b, decoded as an integer. It returns 0
// if b is empty.
func lastKey(b *bbolt.Bucket) uint64 {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return unmarshalUint64(k)
}

// bucketDocuments is an implementation of persistence.ProjectionDocuments
// that stores documents beneath a store's root bucket.
type bucketDocuments struct {
	root   *bbolt.Bucket
	stream message.StreamName
}

func (d *bucketDocuments) LoadProjection(_ context.Context, p string) ([]byte, error) {
	b := bboltx.Bucket(d.root, projectionBucketKey, []byte(p))
	if b == nil {
		return nil, nil
	}
	return clone(b.Get([]byte(d.stream))), nil
}

func (d *bucketDocuments) SaveProjection(_ context.Context, p string, doc []byte) error {
	if doc == nil {
		if b := bboltx.Bucket(d.root, projectionBucketKey, []byte(p)); b != nil {
			bboltx.Delete(b, []byte(d.stream))
		}
		return nil
	}

	b := bboltx.CreateBucketIfNotExists(d.root, projectionBucketKey, []byte(p))
	bboltx.Put(b, []byte(d.stream), doc)

	return nil
}
