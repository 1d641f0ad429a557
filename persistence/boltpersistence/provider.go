package boltpersistence

import (
	"context"
	"os"
	"sync"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/persistence"
	"go.etcd.io/bbolt"
)

// Provider is an implementation of persistence.Provider for BoltDB that uses
// an existing open database.
type Provider struct {
	provider

	// DB is the BoltDB database to use.
	DB *bbolt.DB

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption
}

// Open returns the data-store with the given name.
//
// Data-stores with the same name share the same data. Each data-store is kept
// in its own top-level bucket.
func (p *Provider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Options,
		func() (*bbolt.DB, error) {
			return p.DB, nil
		},
		func(*bbolt.DB) error {
			// Don't actually close the database, since we didn't open it.
			return nil
		},
	)
}

// FileProvider is an implementation of persistence.Provider for BoltDB that
// opens a BoltDB database file.
type FileProvider struct {
	provider

	// Path is the path to the BoltDB database to open or create.
	Path string

	// Mode is the file mode for the created file.
	// If it is zero, 0600 (owner read/write only) is used.
	Mode os.FileMode

	// BoltOptions is the BoltDB options for the database.
	// If it is nil, bbolt.DefaultOptions is used.
	BoltOptions *bbolt.Options

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption
}

// Open returns the data-store with the given name.
func (p *FileProvider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Options,
		func() (*bbolt.DB, error) {
			return bboltx.Open(ctx, p.Path, p.Mode, p.BoltOptions)
		},
		func(db *bbolt.DB) error {
			return db.Close()
		},
	)
}

// provider is the common implementation of Provider and FileProvider.
type provider struct {
	m     sync.Mutex
	db    *bbolt.DB
	close func(db *bbolt.DB) error
	refs  int
}

// open returns the data-store with the given name.
func (p *provider) open(
	_ context.Context,
	name string,
	opts []persistence.StoreOption,
	open func() (*bbolt.DB, error),
	close func(db *bbolt.DB) error,
) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.db == nil {
		db, err := open()
		if err != nil {
			return nil, err
		}

		p.db = db
		p.close = close
	}

	p.refs++

	return &dataStore{
		db:      p.db,
		name:    []byte(name),
		opts:    persistence.NewStoreOptions(opts),
		release: p.release,
	}, nil
}

// release releases a reference to the database, closing it when no open
// data-stores remain.
func (p *provider) release() error {
	p.m.Lock()
	defer p.m.Unlock()

	p.refs--

	if p.refs > 0 {
		return nil
	}

	db := p.db
	close := p.close

	p.db = nil
	p.close = nil

	return close(db)
}
