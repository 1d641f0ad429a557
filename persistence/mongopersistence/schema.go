package mongopersistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// streamCollection holds one document per stream, containing the stream's
	// messages and its inline projection documents.
	streamCollection = "streams"

	// checkpointCollection holds one document per processor checkpoint.
	checkpointCollection = "checkpoints"

	// lockCollection holds one document per processor or projection lock.
	lockCollection = "locks"

	// metaCollection holds information about the data-store itself.
	metaCollection = "meta"
)

// originID is the ID of the meta document that records the cluster time at
// which the data-store was first opened.
const originID = "origin"

// namespaceExists is the server error code returned when creating a
// collection that already exists.
const namespaceExists = 48

// collectionName returns the full name of a collection belonging to the
// named store.
func collectionName(store, c string) string {
	return store + "." + c
}

// originDocument records the point from which the store's change stream can
// be replayed.
type originDocument struct {
	ID string               `bson:"_id"`
	At *primitive.Timestamp `bson:"at,omitempty"`
}

// createCollections creates the collections used by the named store, if
// they do not already exist, and records the store's origin.
func createCollections(ctx context.Context, db *mongo.Database, store string) error {
	caps, err := detectCapabilities(ctx, db)
	if err != nil {
		return err
	}

	for _, c := range []string{
		streamCollection,
		checkpointCollection,
		lockCollection,
		metaCollection,
	} {
		opts := options.CreateCollection()

		if c == streamCollection && caps.PreAndPostImages {
			opts.SetChangeStreamPreAndPostImages(bson.M{"enabled": true})
		}

		err := db.CreateCollection(ctx, collectionName(store, c), opts)
		if err != nil && !isServerError(err, namespaceExists) {
			return err
		}
	}

	return recordOrigin(ctx, db, store)
}

// recordOrigin stores the current cluster time as the store's origin, unless
// an origin has already been recorded.
func recordOrigin(ctx context.Context, db *mongo.Database, store string) error {
	coll := db.Collection(collectionName(store, metaCollection))

	err := coll.FindOne(ctx, bson.M{"_id": originID}).Err()
	if err != mongo.ErrNoDocuments {
		return err
	}

	sess, err := db.Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	return mongo.WithSession(
		ctx,
		sess,
		func(ctx mongo.SessionContext) error {
			if err := db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
				return err
			}

			_, err := coll.InsertOne(ctx, originDocument{
				ID: originID,
				At: sess.OperationTime(),
			})

			if mongo.IsDuplicateKeyError(err) {
				return nil
			}

			return err
		},
	)
}

// loadOrigin returns the cluster time recorded by recordOrigin(), or nil if
// the deployment did not report one.
func loadOrigin(ctx context.Context, db *mongo.Database, store string) (*primitive.Timestamp, error) {
	var doc originDocument

	err := db.
		Collection(collectionName(store, metaCollection)).
		FindOne(ctx, bson.M{"_id": originID}).
		Decode(&doc)

	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	return doc.At, err
}

// DropCollections drops the collections used by the named store.
func DropCollections(ctx context.Context, db *mongo.Database, store string) error {
	for _, c := range []string{
		streamCollection,
		checkpointCollection,
		lockCollection,
		metaCollection,
	} {
		if err := db.Collection(collectionName(store, c)).Drop(ctx); err != nil {
			return err
		}
	}

	return nil
}

// isServerError returns true if err is a server error with the given code.
func isServerError(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}
