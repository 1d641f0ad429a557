package boltpersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/persistence"
	"go.etcd.io/bbolt"
)

// dataStore is an implementation of persistence.DataStore for BoltDB.
//
// All data belonging to the store is kept beneath a root bucket named after
// the store.
type dataStore struct {
	db   *bbolt.DB
	name []byte
	opts persistence.StoreOptions

	m       sync.RWMutex
	release func() error
}

var (
	_ persistence.DataStore    = (*dataStore)(nil)
	_ persistence.GlobalReader = (*dataStore)(nil)
)

// Close closes the data store.
//
// Closing a data-store causes any future operations to return
// ErrDataStoreClosed. It blocks until in-flight operations have finished.
func (ds *dataStore) Close() error {
	ds.m.Lock()
	defer ds.m.Unlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	r := ds.release
	ds.db = nil
	ds.release = nil

	return r()
}

// view calls fn with the store's root bucket within a read-only transaction.
//
// fn is not called if the root bucket does not exist yet.
func (ds *dataStore) view(
	ctx context.Context,
	fn func(root *bbolt.Bucket),
) error {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	return bboltx.View(
		ctx,
		ds.db,
		func(tx *bbolt.Tx) {
			if root := tx.Bucket(ds.name); root != nil {
				fn(root)
			}
		},
	)
}

// update calls fn with the store's root bucket within a read-write
// transaction.
//
// The transaction is rolled back if fn panics via one of the bboltx.Must
// helpers.
func (ds *dataStore) update(
	ctx context.Context,
	fn func(root *bbolt.Bucket),
) error {
	ds.m.RLock()
	defer ds.m.RUnlock()

	if ds.release == nil {
		return persistence.ErrDataStoreClosed
	}

	return bboltx.Update(
		ctx,
		ds.db,
		func(tx *bbolt.Tx) {
			fn(bboltx.CreateBucketIfNotExists(tx, ds.name))
		},
	)
}

// clone returns a copy of data read from a bucket, which is only valid for the
// lifetime of the transaction.
func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte{}, data...)
}
