package boltpersistence

import (
	"context"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.etcd.io/bbolt"
)

// checkpointBucketKey is the key for the bucket that contains processor
// checkpoints.
//
// The keys are the string form of a persistence.CheckpointKey, the values are
// global positions in their string form.
var checkpointBucketKey = []byte("checkpoint")

// LoadCheckpoint returns the stored checkpoint for a processor.
func (ds *dataStore) LoadCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
) (cp position.Token, err error) {
	defer bboltx.Recover(&err)

	k = k.WithDefaults()

	bboltx.Must(ds.view(
		ctx,
		func(root *bbolt.Bucket) {
			cp = loadCheckpoint(root, k)
		},
	))

	return cp, nil
}

// StoreCheckpoint replaces a processor's stored checkpoint.
func (ds *dataStore) StoreCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
	lastStored, next position.Token,
) (res persistence.StoreResult, _ error) {
	k = k.WithDefaults()

	return res, ds.update(
		ctx,
		func(root *bbolt.Bucket) {
			var err error
			res, err = persistence.RelationalCheckpointRule.Decide(
				loadCheckpoint(root, k),
				lastStored,
				next,
			)
			bboltx.Must(err)

			if res.Succeeded() {
				bboltx.Put(
					bboltx.CreateBucketIfNotExists(root, checkpointBucketKey),
					[]byte(k.String()),
					[]byte(next.String()),
				)
			}
		},
	)
}

// loadCheckpoint returns the checkpoint stored under k, or nil if there is
// none.
func loadCheckpoint(root *bbolt.Bucket, k persistence.CheckpointKey) position.Token {
	b := bboltx.Bucket(root, checkpointBucketKey)
	if b == nil {
		return nil
	}

	v := b.Get([]byte(k.String()))
	if v == nil {
		return nil
	}

	cp, err := position.ParseSequence(string(v))
	bboltx.Must(err)

	return cp
}
