package sqlpersistence

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"time"

	"github.com/dogmatiq/ledger/persistence"
)

var (
	// DefaultMaxIdleConns is the default maximum number of idle connections
	// allowed in the database pool.
	DefaultMaxIdleConns = runtime.GOMAXPROCS(0)

	// DefaultMaxOpenConns is the default maximum number of open connections
	// allowed in the database pool.
	DefaultMaxOpenConns = DefaultMaxIdleConns * 10

	// DefaultMaxConnLifetime is the default maximum lifetime of database
	// connections.
	DefaultMaxConnLifetime = 10 * time.Minute
)

// Provider is an implementation of persistence.Provider for SQL that uses an
// existing open database pool.
type Provider struct {
	provider

	// DB is the SQL database to use.
	DB *sql.DB

	// Driver is the SQL driver to use with this database. If it is nil, it is
	// chosen automatically from one of the built-in drivers.
	Driver Driver

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption
}

// Open returns the data-store with the given name.
//
// Data-stores with the same name share the same data. Several data-stores may
// be kept in the same database.
func (p *Provider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Driver,
		p.Options,
		func(context.Context) (*sql.DB, error) {
			return p.DB, nil
		},
		func(db *sql.DB) error {
			// Don't actually close the database, since we didn't open it.
			return nil
		},
	)
}

// DSNProvider is an implementation of persistence.Provider for SQL that opens
// a database pool using a DSN.
type DSNProvider struct {
	provider

	// DriverName is the driver name to be passed to sql.Open().
	DriverName string

	// DSN is the data-source name to be passed to sql.Open().
	DSN string

	// Driver is the SQL driver to use with this database. If it is nil, it is
	// chosen automatically from one of the built-in drivers.
	Driver Driver

	// Options are applied to each data-store opened by the provider.
	Options []persistence.StoreOption

	// MaxIdleConns is the maximum number of idle connections allowed in
	// the database pool.
	//
	// If it is zero, DefaultMaxIdleConns is used.
	MaxIdleConns int

	// MaxOpenConns is the maximum number of open connections allowed in
	// the database pool.
	//
	// If it is zero, DefaultMaxOpenConns is used.
	MaxOpenConns int

	// MaxConnLifetime is the maximum lifetime of database connections.
	// If it is zero, DefaultMaxConnLifetime is used.
	MaxConnLifetime time.Duration
}

// Open returns the data-store with the given name.
//
// The database pool is opened when the first data-store is opened, and closed
// when the last one is closed.
func (p *DSNProvider) Open(ctx context.Context, name string) (persistence.DataStore, error) {
	return p.open(
		ctx,
		name,
		p.Driver,
		p.Options,
		p.openDB,
		(*sql.DB).Close,
	)
}

// openDB opens the database pool and verifies that the server is reachable.
func (p *DSNProvider) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(p.DriverName, p.DSN)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(orDefault(p.MaxIdleConns, DefaultMaxIdleConns))
	db.SetMaxOpenConns(orDefault(p.MaxOpenConns, DefaultMaxOpenConns))
	db.SetConnMaxLifetime(orDefault(p.MaxConnLifetime, DefaultMaxConnLifetime))

	if err := db.PingContext(ctx); err != nil {
		db.Close() // nolint:errcheck
		return nil, err
	}

	return db, nil
}

// orDefault returns v, or def if v is the zero value.
func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// poolConfigurer is an optional interface implemented by drivers that
// constrain the configuration of the database pool.
type poolConfigurer interface {
	ConfigurePool(db *sql.DB)
}

// provider is the reference-counted state shared by Provider and DSNProvider.
type provider struct {
	m      sync.Mutex
	refs   int
	db     *sql.DB
	driver Driver
	close  func(*sql.DB) error
}

// open returns the data-store with the given name, connecting to the database
// if no other data-store from this provider is open.
func (p *provider) open(
	ctx context.Context,
	name string,
	d Driver,
	opts []persistence.StoreOption,
	connect func(context.Context) (*sql.DB, error),
	close func(*sql.DB) error,
) (persistence.DataStore, error) {
	p.m.Lock()
	defer p.m.Unlock()

	if p.refs == 0 {
		if err := p.attach(ctx, d, connect, close); err != nil {
			return nil, err
		}
	}

	p.refs++

	return newDataStore(
		p.db,
		p.driver,
		name,
		persistence.NewStoreOptions(opts),
		p.release,
	), nil
}

// attach opens the database and resolves the driver to use with it.
//
// It assumes p.m is locked.
func (p *provider) attach(
	ctx context.Context,
	d Driver,
	connect func(context.Context) (*sql.DB, error),
	close func(*sql.DB) error,
) error {
	db, err := connect(ctx)
	if err != nil {
		return err
	}

	if d == nil {
		d, err = selectDriver(ctx, db)
		if err != nil {
			close(db) // nolint:errcheck
			return err
		}
	}

	if c, ok := d.(poolConfigurer); ok {
		c.ConfigurePool(db)
	}

	p.db, p.driver, p.close = db, d, close

	return nil
}

// release releases a reference to the database, closing it when no
// data-stores remain open.
func (p *provider) release() error {
	p.m.Lock()
	defer p.m.Unlock()

	p.refs--
	if p.refs > 0 {
		return nil
	}

	db, close := p.db, p.close
	p.db, p.driver, p.close = nil, nil, nil

	return close(db)
}
