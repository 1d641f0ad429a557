package memorypersistence

import (
	"sync"
	"sync/atomic"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
)

// database is the shared in-memory state of all data-stores with the same
// name.
type database struct {
	m           sync.RWMutex
	streams     map[message.StreamName][]message.Message
	global      []message.Message
	projections map[projectionKey][]byte
	checkpoints map[persistence.CheckpointKey]position.Token
	locks       map[lockKey]persistence.LockRecord
}

type projectionKey struct {
	projection string
	stream     message.StreamName
}

type lockKey struct {
	isProjection bool
	key          string
}

func newDatabase() *database {
	return &database{
		streams:     map[message.StreamName][]message.Message{},
		projections: map[projectionKey][]byte{},
		checkpoints: map[persistence.CheckpointKey]position.Token{},
		locks:       map[lockKey]persistence.LockRecord{},
	}
}

// dataStore is an implementation of persistence.DataStore that stores data in
// memory.
type dataStore struct {
	db     *database
	opts   persistence.StoreOptions
	closed atomic.Bool
}

var (
	_ persistence.DataStore    = (*dataStore)(nil)
	_ persistence.GlobalReader = (*dataStore)(nil)
)

func newDataStore(db *database, opts persistence.StoreOptions) *dataStore {
	return &dataStore{
		db:   db,
		opts: opts,
	}
}

// checkOpen returns persistence.ErrDataStoreClosed if the data-store has been
// closed.
func (ds *dataStore) checkOpen() error {
	if ds.closed.Load() {
		return persistence.ErrDataStoreClosed
	}
	return nil
}

// Close closes the data store.
func (ds *dataStore) Close() error {
	if !ds.closed.CompareAndSwap(false, true) {
		return persistence.ErrDataStoreClosed
	}
	return nil
}
