package mongopersistence

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Append appends messages to the stream named n.
//
// The stream document is updated with a single conditional update filtered
// on its previous version. Global positions are not known until the change is
// observed by a Puller, so the recorded messages have no global position.
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

	err = ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			coll := ds.collection(db, streamCollection)

			for {
				var (
					ok  bool
					err error
				)

				recorded, current, ok, err = ds.append(ctx, coll, n, messages, o)
				if ok || err != nil {
					return err
				}

				// The stream was modified concurrently, the next attempt
				// either succeeds or reports a conflict.
			}
		},
	)
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

// append makes a single attempt to append messages to the stream.
//
// It returns false if the stream document was modified after it was loaded.
func (ds *dataStore) append(
	ctx context.Context,
	coll *mongo.Collection,
	n message.StreamName,
	messages []message.Message,
	o persistence.AppendOptions,
) ([]message.Message, uint64, bool, error) {
	var doc streamDocument

	err := coll.FindOne(
		ctx,
		bson.M{"_id": n.String()},
		options.FindOne().SetProjection(bson.M{"messages": 0}),
	).Decode(&doc)
	if err != nil && err != mongo.ErrNoDocuments {
		return nil, 0, false, err
	}

	current := uint64(doc.Version)

	if err := o.ExpectedVersion.Check(n, current); err != nil {
		return nil, 0, false, err
	}

	now := ds.opts.Now()
	recorded := make([]message.Message, len(messages))
	docs := make([]messageDocument, len(messages))

	for i, m := range messages {
		recorded[i] = message.Record(m, n, current+uint64(i)+1, nil, now)
		docs[i] = marshalMessage(recorded[i])
	}

	projections := &documentProjections{
		current: doc.Projections,
		saved:   map[string][]byte{},
	}

	if err := ds.opts.Hooks.Project(ctx, projections, recorded); err != nil {
		return nil, 0, false, err
	}

	next := int64(current) + int64(len(recorded))

	if current == 0 {
		_, err := coll.InsertOne(
			ctx,
			streamDocument{
				Name:        n.String(),
				Version:     next,
				Appended:    int64(len(recorded)),
				Messages:    docs,
				Projections: projections.inserted(),
			},
		)

		if mongo.IsDuplicateKeyError(err) {
			return nil, 0, false, nil
		}

		return recorded, current, err == nil, err
	}

	set := bson.M{
		"version":  next,
		"appended": int64(len(recorded)),
	}
	unset := bson.M{}

	for p, doc := range projections.saved {
		if doc == nil {
			unset["projections."+p] = ""
		} else {
			set["projections."+p] = doc
		}
	}

	update := bson.M{
		"$set":  set,
		"$push": bson.M{"messages": bson.M{"$each": docs}},
	}

	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := coll.UpdateOne(
		ctx,
		bson.M{
			"_id":     n.String(),
			"version": int64(current),
		},
		update,
	)
	if err != nil {
		return nil, 0, false, err
	}

	return recorded, current, res.MatchedCount == 1, nil
}

// Read returns the messages in the stream named n.
func (ds *dataStore) Read(
	ctx context.Context,
	n message.StreamName,
	opts ...persistence.ReadOption,
) (res persistence.ReadResult, _ error) {
	o := persistence.NewReadOptions(opts)

	if err := ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			var doc streamDocument

			err := ds.collection(db, streamCollection).FindOne(
				ctx,
				bson.M{"_id": n.String()},
				options.FindOne().SetProjection(bson.M{
					"projections": 0,
					"messages":    bson.M{"$slice": slice(o)},
				}),
			).Decode(&doc)
			if err == mongo.ErrNoDocuments {
				return nil
			} else if err != nil {
				return err
			}

			res.CurrentVersion = uint64(doc.Version)
			res.StreamExists = res.CurrentVersion != 0

			for _, d := range doc.Messages {
				if !o.Includes(uint64(d.Position)) {
					continue
				}

				m, err := unmarshalMessage(n, d, nil)
				if err != nil {
					return err
				}

				res.Messages = append(res.Messages, m)
			}

			return nil
		},
	); err != nil {
		return persistence.ReadResult{}, err
	}

	if err := o.ExpectedVersion.Check(n, res.CurrentVersion); err != nil {
		return persistence.ReadResult{}, err
	}

	return res, nil
}

// slice returns the arguments to a $slice projection that selects the
// messages within the range described by o.
func slice(o persistence.ReadOptions) bson.A {
	var skip uint64
	if o.From > 1 {
		skip = o.From - 1
	}

	limit := uint64(math.MaxInt32)
	if o.To != 0 {
		if o.To <= skip {
			// $slice requires a positive limit, the excess message is
			// discarded by Read().
			limit = 1
		} else {
			limit = o.To - skip
		}
	}

	return bson.A{int64(skip), int64(limit)}
}

// ReadProjection returns the document produced by the named inline projection
// for the stream named n.
func (ds *dataStore) ReadProjection(
	ctx context.Context,
	projection string,
	n message.StreamName,
) (doc []byte, _ error) {
	if err := validateProjectionName(projection); err != nil {
		return nil, err
	}

	return doc, ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			var s streamDocument

			err := ds.collection(db, streamCollection).FindOne(
				ctx,
				bson.M{"_id": n.String()},
				options.FindOne().SetProjection(bson.M{
					"projections." + projection: 1,
				}),
			).Decode(&s)
			if err == mongo.ErrNoDocuments {
				return nil
			} else if err != nil {
				return err
			}

			doc = s.Projections[projection]
			return nil
		},
	)
}

// documentProjections is an implementation of persistence.ProjectionDocuments
// that collects the changes to a stream document's projections so they can be
// applied by the same update that appends the messages.
type documentProjections struct {
	current map[string][]byte
	saved   map[string][]byte
}

func (d *documentProjections) LoadProjection(_ context.Context, p string) ([]byte, error) {
	if doc, ok := d.saved[p]; ok {
		return doc, nil
	}
	return d.current[p], nil
}

func (d *documentProjections) SaveProjection(_ context.Context, p string, doc []byte) error {
	if err := validateProjectionName(p); err != nil {
		return err
	}

	d.saved[p] = doc
	return nil
}

// inserted returns the projections to store in a new stream document.
func (d *documentProjections) inserted() map[string][]byte {
	m := map[string][]byte{}
	for p, doc := range d.saved {
		if doc != nil {
			m[p] = doc
		}
	}
	return m
}

// validateProjectionName returns an error if p can not be used as a field
// name within a stream document.
func validateProjectionName(p string) error {
	if strings.ContainsAny(p, ".$") {
		return fmt.Errorf("projection name '%s' must not contain '.' or '$'", p)
	}
	return nil
}
