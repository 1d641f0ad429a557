package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/cmd/ledgerd/internal/config"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/persistence/boltpersistence"
	"github.com/dogmatiq/ledger/persistence/mongopersistence"
	"github.com/dogmatiq/ledger/persistence/sqlpersistence"
	"github.com/dogmatiq/ledger/persistence/sqlpersistence/postgres"
	"github.com/dogmatiq/ledger/persistence/sqlpersistence/sqlite"
	"go.uber.org/multierr"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// backend is an open data-store along with the feed that delivers the
// messages recorded in it.
type backend struct {
	Store         persistence.DataStore
	Puller        feed.Puller
	IsUnavailable func(error) bool
	close         func() error
}

// Close closes the data-store and any resources that it depends upon.
func (b *backend) Close() error {
	err := b.Store.Close()

	if b.close != nil {
		err = multierr.Append(err, b.close())
	}

	return err
}

// openBackend opens the data-store described by cfg.
func openBackend(
	ctx context.Context,
	cfg config.Config,
	logger logging.Logger,
) (*backend, error) {
	poller := &feed.Poller{
		BatchSize: cfg.Feed.BatchSize,
		Logger:    logger,
	}

	switch cfg.Store.Backend {
	case config.PostgreSQL:
		return openSQL(ctx, cfg.Store, "pgx", postgres.Driver, poller, logger)
	case config.SQLite:
		return openSQL(ctx, cfg.Store, "sqlite3", sqlite.Driver, poller, logger)
	case config.BoltDB:
		return openBolt(ctx, cfg.Store, poller, logger)
	case config.MongoDB:
		return openMongo(ctx, cfg.Store, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Store.Backend)
	}
}

// openSQL opens a data-store in an SQL database, creating the schema if
// necessary. The data-store is consumed by polling.
func openSQL(
	ctx context.Context,
	cfg config.StoreConfig,
	driverName string,
	driver sqlpersistence.Driver,
	poller *feed.Poller,
	logger logging.Logger,
) (_ *backend, err error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close() // nolint:errcheck
		}
	}()

	if err := sqlpersistence.CreateSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("unable to create schema: %w", err)
	}

	p := &sqlpersistence.Provider{
		DB:     db,
		Driver: driver,
		Options: []persistence.StoreOption{
			persistence.WithLogger(logger),
			persistence.WithAfterCommitHook(poller.Notify),
		},
	}

	ds, err := p.Open(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	poller.Source = ds.(persistence.GlobalReader)

	return &backend{
		Store:         ds,
		Puller:        poller,
		IsUnavailable: sqlpersistence.IsUnavailable,
		close:         db.Close,
	}, nil
}

// openBolt opens a data-store in a BoltDB file.
func openBolt(
	ctx context.Context,
	cfg config.StoreConfig,
	poller *feed.Poller,
	logger logging.Logger,
) (*backend, error) {
	p := &boltpersistence.FileProvider{
		Path: cfg.Path,
		Options: []persistence.StoreOption{
			persistence.WithLogger(logger),
			persistence.WithAfterCommitHook(poller.Notify),
		},
	}

	ds, err := p.Open(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	poller.Source = ds.(persistence.GlobalReader)

	// BoltDB is an embedded database, so the feed never becomes unavailable
	// without the store itself failing.
	return &backend{
		Store:  ds,
		Puller: poller,
	}, nil
}

// openMongo opens a data-store in a MongoDB replica set, and consumes it
// using a change stream.
func openMongo(
	ctx context.Context,
	cfg config.StoreConfig,
	logger logging.Logger,
) (*backend, error) {
	p := &mongopersistence.URIProvider{
		URI:      cfg.URI,
		Database: cfg.Database,
		Options: []persistence.StoreOption{
			persistence.WithLogger(logger),
		},
	}

	ds, err := p.Open(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}

	puller, err := mongopersistence.NewPuller(ds)
	if err != nil {
		ds.Close() // nolint:errcheck
		return nil, err
	}

	return &backend{
		Store:         ds,
		Puller:        puller,
		IsUnavailable: mongopersistence.IsUnavailable,
	}, nil
}
