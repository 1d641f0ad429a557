package mongopersistence

import (
	"context"
	"time"

	"github.com/dogmatiq/ledger/persistence"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// lockDocument is the stored form of a processor or projection lock.
type lockDocument struct {
	ID              string `bson:"_id"`
	RecordType      string `bson:"recordType"`
	Status          string `bson:"status"`
	OwnerInstanceID string `bson:"processorInstanceId"`
	LastUpdated     int64  `bson:"lastUpdated"`
}

func (d lockDocument) record() persistence.LockRecord {
	return persistence.LockRecord{
		Status:          persistence.Status(d.Status),
		OwnerInstanceID: d.OwnerInstanceID,
		LastUpdated:     time.Unix(0, d.LastUpdated),
	}
}

// recordType returns the type of lock record described by o.
func recordType(o persistence.LockOptions) string {
	if o.IsProjection() {
		return "projection"
	}
	return "processor"
}

// lockID returns the ID of the lock document described by o.
func lockID(o persistence.LockOptions) string {
	return recordType(o) + ":" + o.Key()
}

// TryAcquire attempts to acquire the lock described by o.
//
// An exclusive lock is written with a conditional update filtered on the
// record that was used to make the decision.
func (ds *dataStore) TryAcquire(
	ctx context.Context,
	o persistence.LockOptions,
) (acquired bool, _ error) {
	o = o.WithDefaults()

	return acquired, ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			coll := ds.collection(db, lockCollection)

			for {
				var (
					ok  bool
					err error
				)

				acquired, ok, err = ds.tryAcquire(ctx, coll, o)
				if ok || err != nil {
					return err
				}
			}
		},
	)
}

// tryAcquire makes a single attempt to acquire a lock.
//
// It returns false if the lock record was modified after it was loaded.
func (ds *dataStore) tryAcquire(
	ctx context.Context,
	coll *mongo.Collection,
	o persistence.LockOptions,
) (acquired, ok bool, _ error) {
	id := lockID(o)

	var doc lockDocument
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)

	var current *persistence.LockRecord
	if err == nil {
		rec := doc.record()
		current = &rec
	} else if err != mongo.ErrNoDocuments {
		return false, false, err
	}

	now := ds.opts.Now()

	if !persistence.CanAcquire(current, o, now) {
		return false, true, nil
	}

	if o.Exclusivity == persistence.Shared {
		return true, true, nil
	}

	next := lockDocument{
		ID:              id,
		RecordType:      recordType(o),
		Status:          string(o.AcquiredStatus()),
		OwnerInstanceID: o.InstanceID,
		LastUpdated:     now.UnixNano(),
	}

	if current == nil {
		_, err := coll.InsertOne(ctx, next)
		if mongo.IsDuplicateKeyError(err) {
			return false, false, nil
		}

		return err == nil, err == nil, err
	}

	res, err := coll.ReplaceOne(
		ctx,
		bson.M{
			"_id":                 id,
			"status":              doc.Status,
			"processorInstanceId": doc.OwnerInstanceID,
			"lastUpdated":         doc.LastUpdated,
		},
		next,
	)
	if err != nil {
		return false, false, err
	}

	return res.MatchedCount == 1, res.MatchedCount == 1, nil
}

// Refresh renews an exclusive lock held by o.InstanceID.
func (ds *dataStore) Refresh(
	ctx context.Context,
	o persistence.LockOptions,
) (ok bool, _ error) {
	o = o.WithDefaults()

	return ok, ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			res, err := ds.collection(db, lockCollection).UpdateOne(
				ctx,
				bson.M{
					"_id":                 lockID(o),
					"processorInstanceId": o.InstanceID,
					"status": bson.M{
						"$in": bson.A{
							string(persistence.StatusRunning),
							string(persistence.StatusAsyncProcessing),
						},
					},
				},
				bson.M{
					"$set": bson.M{
						"lastUpdated": ds.opts.Now().UnixNano(),
					},
				},
			)
			if err != nil {
				return err
			}

			ok = res.MatchedCount == 1
			return nil
		},
	)
}

// Release releases the lock described by o if it is held by o.InstanceID.
func (ds *dataStore) Release(
	ctx context.Context,
	o persistence.LockOptions,
) error {
	if o.Exclusivity == persistence.Shared {
		return nil
	}

	o = o.WithDefaults()

	return ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			_, err := ds.collection(db, lockCollection).UpdateOne(
				ctx,
				bson.M{
					"_id":                 lockID(o),
					"processorInstanceId": o.InstanceID,
				},
				bson.M{
					"$set": bson.M{
						"status":              string(o.ReleasedStatus()),
						"processorInstanceId": persistence.UnknownInstanceID,
						"lastUpdated":         ds.opts.Now().UnixNano(),
					},
				},
			)
			return err
		},
	)
}
