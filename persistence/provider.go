package persistence

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Provider is an interface used to open data-stores.
type Provider interface {
	// Open returns the data-store with the given name.
	//
	// The name distinguishes independent stores that share the same
	// underlying database.
	Open(ctx context.Context, name string) (DataStore, error)
}

// DataStoreSet is a collection of data-stores opened from a single provider.
type DataStoreSet struct {
	Provider Provider

	m      sync.Mutex
	stores map[string]DataStore
}

// Get returns the data store with the given name.
//
// If the set already contains the data-store it is returned. Otherwise it is
// opened and added to the set. The caller is NOT reponsible for closing the
// data store.
func (s *DataStoreSet) Get(ctx context.Context, name string) (DataStore, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if ds, ok := s.stores[name]; ok {
		return ds, nil
	}

	ds, err := s.Provider.Open(ctx, name)
	if err != nil {
		return nil, err
	}

	if s.stores == nil {
		s.stores = map[string]DataStore{}
	}

	s.stores[name] = ds

	return ds, nil
}

// Close closes all datastores in the set.
func (s *DataStoreSet) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	stores := s.stores
	s.stores = nil

	var err error
	for _, ds := range stores {
		err = multierr.Append(
			err,
			ds.Close(),
		)
	}

	return err
}
