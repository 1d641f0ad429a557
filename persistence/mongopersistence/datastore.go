package mongopersistence

import (
	"context"
	"errors"
	"sync"

	"github.com/dogmatiq/ledger/persistence"
	"go.mongodb.org/mongo-driver/mongo"
)

// dataStore is an implementation of persistence.DataStore for MongoDB.
type dataStore struct {
	db      *mongo.Database
	name    string
	opts    persistence.StoreOptions
	release func() error

	closeM sync.Mutex
	done   chan struct{}
}

var _ persistence.DataStore = (*dataStore)(nil)

// Close closes the data store.
//
// Any in-flight operations are canceled. Future operations return
// ErrDataStoreClosed.
func (ds *dataStore) Close() error {
	ds.closeM.Lock()
	defer ds.closeM.Unlock()

	select {
	case <-ds.done:
		return persistence.ErrDataStoreClosed
	default:
	}

	close(ds.done)

	return ds.release()
}

// withDB calls fn with the database that should be used by this data-store.
//
// It returns an error if the data-store is already closed. The context passed
// to fn is canceled if the data-store is closed during execution.
func (ds *dataStore) withDB(
	ctx context.Context,
	fn func(ctx context.Context, db *mongo.Database) error,
) error {
	select {
	case <-ds.done:
		return persistence.ErrDataStoreClosed
	default:
	}

	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ds.done:
			cancel()
		case <-fnCtx.Done():
		}
	}()

	err := fn(fnCtx, ds.db)

	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		select {
		case <-ds.done:
			return persistence.ErrDataStoreClosed
		default:
		}
	}

	return err
}

// collection returns the named collection belonging to this data-store.
func (ds *dataStore) collection(db *mongo.Database, c string) *mongo.Collection {
	return db.Collection(collectionName(ds.name, c))
}
