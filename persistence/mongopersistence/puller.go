package mongopersistence

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Puller is a feed.Puller that delivers the messages recorded in a MongoDB
// data-store by consuming the database's change stream.
//
// The global position of each message is a position.ResumeToken made of the
// change event's resume token and the index of the message within the event.
type Puller struct {
	// Database is the database that contains the data-store.
	Database *mongo.Database

	// Store is the name of the data-store.
	Store string

	// Logger is the target for log messages from the puller. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger

	m    sync.Mutex
	caps *capabilities
}

var _ feed.Puller = (*Puller)(nil)

// NewPuller returns a puller for a data-store opened by a Provider or
// URIProvider.
func NewPuller(ds persistence.DataStore) (*Puller, error) {
	x, ok := ds.(*dataStore)
	if !ok {
		return nil, fmt.Errorf("%T is not a MongoDB data-store", ds)
	}

	return &Puller{
		Database: x.db,
		Store:    x.name,
		Logger:   x.opts.Hooks.Logger,
	}, nil
}

// changeEvent is a change stream event for the stream collection.
type changeEvent struct {
	ID            bson.Raw            `bson:"_id"`
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument      *streamDocument `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.Raw `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// Pull sends batches of messages recorded after the given position to out
// until ctx is canceled or an error occurs.
//
// If after is nil, pulling starts at the time the data-store was first
// opened, which must still be within the deployment's oplog.
func (p *Puller) Pull(
	ctx context.Context,
	after position.Token,
	out chan<- feed.Batch,
) error {
	caps, err := p.capabilities(ctx)
	if err != nil {
		return err
	}

	opts := options.ChangeStream().SetFullDocument(caps.FullDocument)

	var (
		from   position.ResumeToken
		fromTS primitive.Timestamp
		exact  bool
	)

	if after == nil {
		origin, err := loadOrigin(ctx, p.Database, p.Store)
		if err != nil {
			return err
		}

		if origin != nil {
			opts.SetStartAtOperationTime(origin)
		}
	} else {
		t, ok := after.(position.ResumeToken)
		if !ok {
			return fmt.Errorf("%w: unexpected %T position", position.ErrIllegalState, after)
		}

		from = t
		fromTS, exact = clusterTime(t.Cursor)

		if exact {
			// Start at the event itself so that the messages after t.Counter
			// are delivered.
			opts.SetStartAtOperationTime(&fromTS)
		} else {
			opts.SetStartAfter(bson.M{"_data": t.Cursor})
		}
	}

	logging.Debug(
		p.Logger,
		"watching change stream of '%s' after %s, full document mode is '%s'",
		p.Store,
		describe(after),
		caps.FullDocument,
	)

	cs, err := p.Database.Watch(ctx, p.pipeline(), opts)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			return err
		}

		messages, err := translate(ev)
		if err != nil {
			return err
		}

		if after != nil && exact {
			messages = skip(messages, from, fromTS, ev.ClusterTime)
		}

		if len(messages) == 0 {
			continue
		}

		select {
		case out <- feed.Batch{Messages: messages}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := cs.Err(); err != nil {
		return err
	}

	return errors.New("change stream closed by the server")
}

// Head returns a position after which only messages that are recorded in the
// future are delivered.
func (p *Puller) Head(ctx context.Context) (position.Token, error) {
	cs, err := p.Database.Watch(ctx, p.pipeline())
	if err != nil {
		return nil, err
	}
	defer cs.Close(context.Background())

	token := cs.ResumeToken()
	if token == nil {
		// Servers that do not report a post-batch resume token with the
		// initial response report it after the first getMore.
		if cs.TryNext(ctx) {
			return nil, errors.New("unexpected change event before head was determined")
		}

		if err := cs.Err(); err != nil {
			return nil, err
		}

		token = cs.ResumeToken()
	}

	cursor, err := cursorOf(token)
	if err != nil {
		return nil, err
	}

	return position.ResumeToken{Cursor: cursor}, nil
}

// pipeline returns the aggregation pipeline that restricts the change stream
// to changes to the store's stream documents.
func (p *Puller) pipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{
			Key: "$match",
			Value: bson.M{
				"ns.coll": collectionName(p.Store, streamCollection),
				"operationType": bson.M{
					"$in": bson.A{"insert", "update", "replace"},
				},
			},
		}},
	}
}

// capabilities returns the server's capabilities, detecting them the first
// time it is called.
func (p *Puller) capabilities(ctx context.Context) (capabilities, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.caps == nil {
		caps, err := detectCapabilities(ctx, p.Database)
		if err != nil {
			return capabilities{}, err
		}

		p.caps = &caps
	}

	return *p.caps, nil
}

// translate returns the messages that were appended by a change event.
func translate(ev changeEvent) ([]message.Message, error) {
	cursor, err := cursorOf(ev.ID)
	if err != nil {
		return nil, err
	}

	n := message.StreamName(ev.DocumentKey.ID)

	var docs []messageDocument

	switch ev.OperationType {
	case "insert", "replace":
		if ev.FullDocument == nil {
			return nil, fmt.Errorf("%s event for stream '%s' has no document", ev.OperationType, n)
		}

		docs = ev.FullDocument.Messages

		if ev.OperationType == "replace" {
			docs = tail(docs, ev.FullDocument.Version, ev.FullDocument.Appended)
		}

	case "update":
		docs, err = updatedMessages(ev)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]message.Message, len(docs))

	for i, d := range docs {
		messages[i], err = unmarshalMessage(
			n,
			d,
			position.ResumeToken{
				Cursor:  cursor,
				Counter: uint64(i),
			},
		)
		if err != nil {
			return nil, err
		}
	}

	return messages, nil
}

// updatedMessages returns the messages appended by an update event.
//
// They are taken from the update description when it contains them, and
// otherwise from the full document. Messages are never removed from the
// array, so a full document that was looked up after later appends still
// contains them.
func updatedMessages(ev changeEvent) ([]messageDocument, error) {
	n := ev.DocumentKey.ID
	fields := ev.UpdateDescription.UpdatedFields

	var version, appended int64

	if v, err := fields.LookupErr("version"); err == nil {
		version, _ = v.AsInt64OK()
	}

	if v, err := fields.LookupErr("appended"); err == nil {
		appended, _ = v.AsInt64OK()
	}

	if version == 0 || appended == 0 {
		return nil, fmt.Errorf("update event for stream '%s' does not describe an append", n)
	}

	first := version - appended + 1
	found := map[int64]messageDocument{}

	elems, err := fields.Elements()
	if err != nil {
		return nil, err
	}

	for _, e := range elems {
		k := e.Key()

		switch {
		case k == "messages":
			var docs []messageDocument
			if err := e.Value().Unmarshal(&docs); err != nil {
				return nil, err
			}

			for _, d := range docs {
				found[d.Position] = d
			}

		case strings.HasPrefix(k, "messages."):
			if _, err := strconv.Atoi(k[len("messages."):]); err != nil {
				continue
			}

			var d messageDocument
			if err := e.Value().Unmarshal(&d); err != nil {
				return nil, err
			}

			found[d.Position] = d
		}
	}

	if ev.FullDocument != nil {
		for _, d := range tail(ev.FullDocument.Messages, version, appended) {
			if _, ok := found[d.Position]; !ok {
				found[d.Position] = d
			}
		}
	}

	var docs []messageDocument

	for pos := first; pos <= version; pos++ {
		d, ok := found[pos]
		if !ok {
			return nil, fmt.Errorf("update event for stream '%s' is missing the message at position %d", n, pos)
		}

		docs = append(docs, d)
	}

	return docs, nil
}

// tail returns the appended messages within docs, given the stream version
// after the append and the number of messages that were appended.
func tail(docs []messageDocument, version, appended int64) []messageDocument {
	var result []messageDocument

	for _, d := range docs {
		if d.Position > version-appended && d.Position <= version {
			result = append(result, d)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})

	return result
}

// skip removes the messages that are at or before the position t, which is a
// token for an event at cluster time ts.
func skip(
	messages []message.Message,
	t position.ResumeToken,
	ts, eventTS primitive.Timestamp,
) []message.Message {
	if eventTS.After(ts) {
		return messages
	}

	var result []message.Message

	for _, m := range messages {
		if position.MustCompare(m.MetaData.GlobalPosition, t) > 0 {
			result = append(result, m)
		}
	}

	return result
}

// cursorOf returns the string form of a change stream resume token.
func cursorOf(token bson.Raw) (string, error) {
	v, err := token.LookupErr("_data")
	if err != nil {
		return "", fmt.Errorf("unsupported resume token: %w", err)
	}

	s, ok := v.StringValueOK()
	if !ok {
		return "", errors.New("unsupported resume token: _data is not a string")
	}

	return s, nil
}

// timestampType is the type byte that begins the hex-encoded data of a
// resume token, which is followed by the cluster time of the event.
const timestampType = 0x82

// clusterTime returns the cluster time encoded at the start of a resume
// token's data.
func clusterTime(cursor string) (primitive.Timestamp, bool) {
	if len(cursor) < 18 {
		return primitive.Timestamp{}, false
	}

	data, err := hex.DecodeString(cursor[:18])
	if err != nil || data[0] != timestampType {
		return primitive.Timestamp{}, false
	}

	return primitive.Timestamp{
		T: binary.BigEndian.Uint32(data[1:5]),
		I: binary.BigEndian.Uint32(data[5:9]),
	}, true
}

// describe returns a human-readable description of a position.
func describe(t position.Token) string {
	if t == nil {
		return "the store's origin"
	}
	return t.String()
}
