package mongopersistence

import (
	"context"
	"sync"

	"github.com/dogmatiq/ledger/persistence"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultDatabase is the name of the database used when none is specified.
const DefaultDatabase = "ledger"

// Provider is an implementation of persistence.Provider for MongoDB that uses
// an existing connected client.
type Provider struct {
	provider

	// Client is the MongoDB client to use.
	Client *mongo.Client

	// Database is the name of the database that contains the data-stores. If
	// it is empty, DefaultDatabase is used.
	Database string

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption
}

// Open returns the data-store with the given name.
//
// Data-stores with the same name share the same data. Each data-store is kept
// in its own set of collections, prefixed with the store's name.
func (p *Provider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Database,
		p.Options,
		func() (*mongo.Client, error) {
			return p.Client, nil
		},
		func(*mongo.Client) error {
			// Don't actually disconnect the client, since we didn't connect it.
			return nil
		},
	)
}

// URIProvider is an implementation of persistence.Provider for MongoDB that
// connects a new client using a connection URI.
type URIProvider struct {
	provider

	// URI is the MongoDB connection string.
	URI string

	// Database is the name of the database that contains the data-stores. If
	// it is empty, DefaultDatabase is used.
	Database string

	// ClientOptions are applied after the URI. They may be used to set
	// options that can not be expressed in a connection string.
	ClientOptions []*options.ClientOptions

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption
}

// Open returns the data-store with the given name.
func (p *URIProvider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Database,
		p.Options,
		func() (*mongo.Client, error) {
			opts := append(
				[]*options.ClientOptions{options.Client().ApplyURI(p.URI)},
				p.ClientOptions...,
			)

			return mongo.Connect(ctx, opts...)
		},
		func(c *mongo.Client) error {
			return c.Disconnect(context.Background())
		},
	)
}

// provider is the common implementation of Provider and URIProvider.
type provider struct {
	m          sync.Mutex
	client     *mongo.Client
	disconnect func(*mongo.Client) error
	refs       int
}

// open returns the data-store with the given name.
func (p *provider) open(
	ctx context.Context,
	name string,
	database string,
	opts []persistence.StoreOption,
	connect func() (*mongo.Client, error),
	disconnect func(*mongo.Client) error,
) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.client == nil {
		c, err := connect()
		if err != nil {
			return nil, err
		}

		p.client = c
		p.disconnect = disconnect
	}

	if database == "" {
		database = DefaultDatabase
	}

	db := p.client.Database(database)

	if err := createCollections(ctx, db, name); err != nil {
		p.releaseLocked()
		return nil, err
	}

	p.refs++

	return &dataStore{
		db:      db,
		name:    name,
		opts:    persistence.NewStoreOptions(opts),
		release: p.release,
		done:    make(chan struct{}),
	}, nil
}

// release releases a reference to the client, disconnecting it when no open
// data-stores remain.
func (p *provider) release() error {
	p.m.Lock()
	defer p.m.Unlock()

	p.refs--
	return p.releaseLocked()
}

func (p *provider) releaseLocked() error {
	if p.refs > 0 {
		return nil
	}

	c := p.client
	disconnect := p.disconnect

	p.client = nil
	p.disconnect = nil

	return disconnect(c)
}
