package boltpersistence

import (
	"context"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/persistence"
	"go.etcd.io/bbolt"
)

// lockBucketKey is the key for the bucket that contains lock records.
//
// The keys are produced by lockKey(), the values are records marshaled by
// marshalLock().
var lockBucketKey = []byte("lock")

// lockKey returns the key under which the lock described by o is stored.
//
// Processor and projection locks are kept apart even when they share a name.
func lockKey(o persistence.LockOptions) []byte {
	if o.IsProjection() {
		return []byte("projection:" + o.Key())
	}
	return []byte("processor:" + o.Key())
}

// TryAcquire attempts to acquire the lock described by o.
func (ds *dataStore) TryAcquire(
	ctx context.Context,
	o persistence.LockOptions,
) (acquired bool, _ error) {
	o = o.WithDefaults()

	return acquired, ds.update(
		ctx,
		func(root *bbolt.Bucket) {
			locks := bboltx.CreateBucketIfNotExists(root, lockBucketKey)
			k := lockKey(o)
			now := ds.opts.Now()

			var current *persistence.LockRecord
			if v := locks.Get(k); v != nil {
				rec := unmarshalLock(v)
				current = &rec
			}

			if !persistence.CanAcquire(current, o, now) {
				return
			}

			if o.Exclusivity == persistence.Exclusive {
				bboltx.Put(
					locks,
					k,
					marshalLock(persistence.LockRecord{
						Status:          o.AcquiredStatus(),
						OwnerInstanceID: o.InstanceID,
						LastUpdated:     now,
					}),
				)
			}

			acquired = true
		},
	)
}

// Refresh renews an exclusive lock held by o.InstanceID.
func (ds *dataStore) Refresh(
	ctx context.Context,
	o persistence.LockOptions,
) (ok bool, _ error) {
	o = o.WithDefaults()

	return ok, ds.update(
		ctx,
		func(root *bbolt.Bucket) {
			locks := bboltx.Bucket(root, lockBucketKey)
			if locks == nil {
				return
			}

			k := lockKey(o)
			v := locks.Get(k)
			if v == nil {
				return
			}

			rec := unmarshalLock(v)
			if !rec.Status.IsExclusive() || rec.OwnerInstanceID != o.InstanceID {
				return
			}

			rec.LastUpdated = ds.opts.Now()
			bboltx.Put(locks, k, marshalLock(rec))
			ok = true
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

	return ds.update(
		ctx,
		func(root *bbolt.Bucket) {
			locks := bboltx.Bucket(root, lockBucketKey)
			if locks == nil {
				return
			}

			k := lockKey(o)
			v := locks.Get(k)
			if v == nil || unmarshalLock(v).OwnerInstanceID != o.InstanceID {
				return
			}

			bboltx.Put(
				locks,
				k,
				marshalLock(persistence.LockRecord{
					Status:          o.ReleasedStatus(),
					OwnerInstanceID: persistence.UnknownInstanceID,
					LastUpdated:     ds.opts.Now(),
				}),
			)
		},
	)
}
