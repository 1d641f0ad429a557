package memorypersistence

import (
	"context"
	"fmt"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
)

// Append appends messages to the stream named n.
func (ds *dataStore) Append(
	ctx context.Context,
	n message.StreamName,
	messages []message.Message,
	opts ...persistence.AppendOption,
) (persistence.AppendResult, error) {
	if err := ds.checkOpen(); err != nil {
		return persistence.AppendResult{}, err
	}

	if err := persistence.ValidateAppend(messages); err != nil {
		return persistence.AppendResult{}, err
	}

	o := persistence.NewAppendOptions(opts)

	recorded, current, err := ds.append(ctx, n, messages, o)
	if err != nil {
		return persistence.AppendResult{}, err
	}

	ds.opts.Hooks.Committed(ctx, recorded)

	return persistence.AppendResult{
		NextVersion:      current + uint64(len(recorded)),
		CreatedNewStream: current == 0,
		Messages:         recorded,
	}, nil
}

// append records messages and applies inline projections while the database
// is locked.
func (ds *dataStore) append(
	ctx context.Context,
	n message.StreamName,
	messages []message.Message,
	o persistence.AppendOptions,
) ([]message.Message, uint64, error) {
	ds.db.m.Lock()
	defer ds.db.m.Unlock()

	current := uint64(len(ds.db.streams[n]))

	if err := o.ExpectedVersion.Check(n, current); err != nil {
		return nil, 0, err
	}

	now := ds.opts.Now()
	offset := len(ds.db.global)
	recorded := make([]message.Message, len(messages))

	for i, m := range messages {
		recorded[i] = message.Record(
			m,
			n,
			current+uint64(i)+1,
			position.Sequence(offset+i+1),
			now,
		)
	}

	docs := &stagedDocuments{
		db:      ds.db,
		stream:  n,
		changes: map[string][]byte{},
	}

	if err := ds.opts.Hooks.Project(ctx, docs, recorded); err != nil {
		return nil, 0, err
	}

	ds.db.streams[n] = append(ds.db.streams[n], recorded...)
	ds.db.global = append(ds.db.global, recorded...)

	for p, doc := range docs.changes {
		k := projectionKey{p, n}

		if doc == nil {
			delete(ds.db.projections, k)
		} else {
			ds.db.projections[k] = doc
		}
	}

	return recorded, current, nil
}

// Read returns the messages in the stream named n.
func (ds *dataStore) Read(
	_ context.Context,
	n message.StreamName,
	opts ...persistence.ReadOption,
) (persistence.ReadResult, error) {
	o := persistence.NewReadOptions(opts)

	ds.db.m.RLock()
	defer ds.db.m.RUnlock()

	messages := ds.db.streams[n]
	current := uint64(len(messages))

	if err := o.ExpectedVersion.Check(n, current); err != nil {
		return persistence.ReadResult{}, err
	}

	res := persistence.ReadResult{
		CurrentVersion: current,
		StreamExists:   current != 0,
	}

	for _, m := range messages {
		if o.Includes(m.MetaData.StreamPosition) {
			res.Messages = append(res.Messages, m)
		}
	}

	return res, nil
}

// ReadProjection returns the document produced by the named inline projection
// for the stream named n.
func (ds *dataStore) ReadProjection(
	_ context.Context,
	projection string,
	n message.StreamName,
) ([]byte, error) {
	ds.db.m.RLock()
	defer ds.db.m.RUnlock()

	return ds.db.projections[projectionKey{projection, n}], nil
}

// ReadAll returns up to limit messages recorded after the given position.
func (ds *dataStore) ReadAll(
	_ context.Context,
	after position.Token,
	limit int,
) ([]message.Message, error) {
	var begin uint64

	if after != nil {
		s, ok := after.(position.Sequence)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T position", position.ErrIllegalState, after)
		}
		begin = uint64(s)
	}

	ds.db.m.RLock()
	defer ds.db.m.RUnlock()

	size := uint64(len(ds.db.global))
	if begin >= size {
		return nil, nil
	}

	end := size
	if limit > 0 && begin+uint64(limit) < end {
		end = begin + uint64(limit)
	}

	return append([]message.Message(nil), ds.db.global[begin:end]...), nil
}

// Head returns the position of the most recently recorded message.
func (ds *dataStore) Head(context.Context) (position.Token, error) {
	ds.db.m.RLock()
	defer ds.db.m.RUnlock()

	if len(ds.db.global) == 0 {
		return nil, nil
	}

	return position.Sequence(len(ds.db.global)), nil
}

// stagedDocuments is an implementation of persistence.ProjectionDocuments
// that buffers changes until the append is committed.
type stagedDocuments struct {
	db      *database
	stream  message.StreamName
	changes map[string][]byte
}

func (d *stagedDocuments) LoadProjection(_ context.Context, p string) ([]byte, error) {
	if doc, ok := d.changes[p]; ok {
		return doc, nil
	}
	return d.db.projections[projectionKey{p, d.stream}], nil
}

func (d *stagedDocuments) SaveProjection(_ context.Context, p string, doc []byte) error {
	d.changes[p] = doc
	return nil
}
