package sqlpersistence

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/dogmatiq/ledger/internal/x/sqlx"
	"github.com/dogmatiq/ledger/persistence"
)

// dataStore is an implementation of persistence.DataStore for SQL databases.
type dataStore struct {
	db      *sql.DB
	driver  Driver
	name    string
	opts    persistence.StoreOptions
	release func() error

	closeM sync.Mutex
	done   chan struct{}
}

var (
	_ persistence.DataStore    = (*dataStore)(nil)
	_ persistence.GlobalReader = (*dataStore)(nil)
)

// newDataStore returns a new data-store.
func newDataStore(
	db *sql.DB,
	d Driver,
	name string,
	opts persistence.StoreOptions,
	r func() error,
) *dataStore {
	return &dataStore{
		db:      db,
		driver:  d,
		name:    name,
		opts:    opts,
		release: r,
		done:    make(chan struct{}),
	}
}

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
	fn func(ctx context.Context, db *sql.DB) error,
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

	// A cancelation that did not originate from ctx was caused by closing the
	// data-store.
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		select {
		case <-ds.done:
			return persistence.ErrDataStoreClosed
		default:
		}
	}

	return err
}

// withTx calls fn within a transaction, which is committed if fn returns
// nil.
func (ds *dataStore) withTx(
	ctx context.Context,
	fn func(ctx context.Context, tx *sql.Tx) error,
) error {
	return ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			return sqlx.WithTx(
				ctx,
				db,
				ds.driver.Begin,
				func(tx *sql.Tx) error {
					return fn(ctx, tx)
				},
			)
		},
	)
}
