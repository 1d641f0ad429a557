package sqlpersistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/ledger/persistence/sqlpersistence/postgres"
	"github.com/dogmatiq/ledger/persistence/sqlpersistence/sqlite"
	"go.uber.org/multierr"
)

// drivers are the built-in drivers, in the order that they are tried.
var drivers = []Driver{
	postgres.Driver,
	sqlite.Driver,
}

// CreateSchema creates the schema elements used by the built-in driver that
// is compatible with db.
//
// It is idempotent.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	d, err := selectDriver(ctx, db)
	if err != nil {
		return err
	}
	return d.CreateSchema(ctx, db)
}

// DropSchema removes the schema elements created by CreateSchema(), including
// all of the data stored within them.
func DropSchema(ctx context.Context, db *sql.DB) error {
	d, err := selectDriver(ctx, db)
	if err != nil {
		return err
	}
	return d.DropSchema(ctx, db)
}

// selectDriver returns the first built-in driver that is compatible with db.
//
// The returned error describes why each of the drivers was rejected.
func selectDriver(ctx context.Context, db *sql.DB) (Driver, error) {
	var causes []error

	for _, d := range drivers {
		err := d.IsCompatibleWith(ctx, db)
		if err == nil {
			return d, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		causes = append(causes, fmt.Errorf("%T: %w", d, err))
	}

	return nil, fmt.Errorf(
		"none of the built-in drivers are compatible with %T: %w",
		db.Driver(),
		multierr.Combine(causes...),
	)
}
