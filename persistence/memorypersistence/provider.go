package memorypersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/ledger/persistence"
)

// Provider is an implementation of persistence.Provider that stores data in
// memory.
//
// Data-stores opened with the same name share the same data for the lifetime
// of the provider, which allows several "instances" to be simulated within a
// single process.
type Provider struct {
	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption

	m         sync.Mutex
	databases map[string]*database
}

// Open returns the data-store with the given name.
func (p *Provider) Open(_ context.Context, name string) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.databases == nil {
		p.databases = map[string]*database{}
	}

	db, ok := p.databases[name]
	if !ok {
		db = newDatabase()
		p.databases[name] = db
	}

	return newDataStore(db, persistence.NewStoreOptions(p.Options)), nil
}
