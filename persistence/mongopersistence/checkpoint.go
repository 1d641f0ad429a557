package mongopersistence

import (
	"context"
	"fmt"

	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// checkpointDocument is the stored form of a processor checkpoint.
type checkpointDocument struct {
	ID          string `bson:"_id"`
	ProcessorID string `bson:"processorId"`
	Partition   string `bson:"partitionId"`
	Version     int    `bson:"version"`
	Position    string `bson:"position"`
	LastUpdated int64  `bson:"lastUpdated"`
}

// LoadCheckpoint returns the stored checkpoint for a processor.
func (ds *dataStore) LoadCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
) (cp position.Token, _ error) {
	k = k.WithDefaults()

	return cp, ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			doc, ok, err := loadCheckpoint(ctx, ds.collection(db, checkpointCollection), k)
			if !ok || err != nil {
				return err
			}

			cp, err = position.ParseResumeToken(doc.Position)
			return err
		},
	)
}

// StoreCheckpoint replaces a processor's stored checkpoint.
//
// The checkpoint is replaced with a single conditional update filtered on the
// checkpoint that was used to make the decision.
func (ds *dataStore) StoreCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
	lastStored, next position.Token,
) (res persistence.StoreResult, err error) {
	ctx, span := tracing.Start(
		ctx,
		"store checkpoint",
		tracing.ProcessorIDKey.String(k.ProcessorID),
	)
	defer func() {
		span.SetAttributes(tracing.CheckpointReasonKey.String(res.Reason.String()))
		tracing.End(span, err)
	}()

	if next != nil {
		if _, ok := next.(position.ResumeToken); !ok {
			return persistence.StoreResult{}, fmt.Errorf(
				"%w: unexpected %T checkpoint",
				position.ErrIllegalState,
				next,
			)
		}
	}

	k = k.WithDefaults()

	return res, ds.withDB(
		ctx,
		func(ctx context.Context, db *mongo.Database) error {
			coll := ds.collection(db, checkpointCollection)

			for {
				var ok bool
				res, ok, err = ds.storeCheckpoint(ctx, coll, k, lastStored, next)
				if ok || err != nil {
					return err
				}
			}
		},
	)
}

// storeCheckpoint makes a single attempt to store a checkpoint.
//
// It returns false if the checkpoint was modified after it was loaded.
func (ds *dataStore) storeCheckpoint(
	ctx context.Context,
	coll *mongo.Collection,
	k persistence.CheckpointKey,
	lastStored, next position.Token,
) (persistence.StoreResult, bool, error) {
	doc, exists, err := loadCheckpoint(ctx, coll, k)
	if err != nil {
		return persistence.StoreResult{}, false, err
	}

	var current position.Token
	if exists {
		current, err = position.ParseResumeToken(doc.Position)
		if err != nil {
			return persistence.StoreResult{}, false, err
		}
	}

	res, err := persistence.DocumentCheckpointRule.Decide(current, lastStored, next)
	if err != nil || !res.Succeeded() {
		return res, true, err
	}

	now := ds.opts.Now().UnixNano()

	if !exists {
		_, err := coll.InsertOne(
			ctx,
			checkpointDocument{
				ID:          k.String(),
				ProcessorID: k.ProcessorID,
				Partition:   k.Partition,
				Version:     k.Version,
				Position:    next.String(),
				LastUpdated: now,
			},
		)

		if mongo.IsDuplicateKeyError(err) {
			return persistence.StoreResult{}, false, nil
		}

		return res, err == nil, err
	}

	r, err := coll.UpdateOne(
		ctx,
		bson.M{
			"_id":      k.String(),
			"position": doc.Position,
		},
		bson.M{
			"$set": bson.M{
				"position":    next.String(),
				"lastUpdated": now,
			},
		},
	)
	if err != nil {
		return persistence.StoreResult{}, false, err
	}

	return res, r.MatchedCount == 1, nil
}

// loadCheckpoint returns the checkpoint document for k.
func loadCheckpoint(
	ctx context.Context,
	coll *mongo.Collection,
	k persistence.CheckpointKey,
) (checkpointDocument, bool, error) {
	var doc checkpointDocument

	err := coll.FindOne(ctx, bson.M{"_id": k.String()}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return checkpointDocument{}, false, nil
	}

	return doc, err == nil, err
}
