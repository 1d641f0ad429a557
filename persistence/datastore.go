package persistence

import (
	"errors"
)

// ErrDataStoreClosed is returned when performing any persistence operation on a
// closed data-store.
var ErrDataStoreClosed = errors.New("data store is closed")

// DataStore is the full set of persistence operations provided by a backend.
//
// Backends that can read messages in commit order without a change feed also
// implement GlobalReader.
type DataStore interface {
	StreamStore
	CheckpointStore
	LockManager

	// Close closes the data store.
	//
	// Lock records are not released, they are taken over once their timeout
	// elapses. The behavior of any other persistence operation on a closed
	// data-store is undefined.
	Close() error
}
