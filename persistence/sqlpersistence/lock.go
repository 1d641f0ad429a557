package sqlpersistence

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/persistence"
)

// TryAcquire attempts to acquire the lock described by o.
func (ds *dataStore) TryAcquire(
	ctx context.Context,
	o persistence.LockOptions,
) (acquired bool, _ error) {
	o = o.WithDefaults()

	return acquired, ds.withTx(
		ctx,
		func(ctx context.Context, tx *sql.Tx) error {
			ok, err := ds.driver.TryLockKey(
				ctx,
				tx,
				o.Hash(),
				o.Exclusivity == persistence.Shared,
			)
			if !ok || err != nil {
				return err
			}

			rec, ok, err := ds.driver.SelectLockRecord(ctx, tx, ds.name, o)
			if err != nil {
				return err
			}

			now := ds.opts.Now()

			current := &rec
			if !ok {
				current = nil
			}

			if !persistence.CanAcquire(current, o, now) {
				return nil
			}

			if o.Exclusivity == persistence.Exclusive {
				if err := ds.driver.UpsertLockRecord(
					ctx,
					tx,
					ds.name,
					o,
					persistence.LockRecord{
						Status:          o.AcquiredStatus(),
						OwnerInstanceID: o.InstanceID,
						LastUpdated:     now,
					},
				); err != nil {
					return err
				}
			}

			acquired = true
			return nil
		},
	)
}

// Refresh renews an exclusive lock held by o.InstanceID.
func (ds *dataStore) Refresh(
	ctx context.Context,
	o persistence.LockOptions,
) (ok bool, _ error) {
	o = o.WithDefaults()

	return ok, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) (err error) {
			ok, err = ds.driver.UpdateLockRecord(
				ctx,
				db,
				ds.name,
				o,
				o.InstanceID,
				persistence.LockRecord{
					Status:          o.AcquiredStatus(),
					OwnerInstanceID: o.InstanceID,
					LastUpdated:     ds.opts.Now(),
				},
			)
			return err
		},
	)
}

// Release releases the lock described by o if it is held by o.InstanceID.
func (ds *dataStore) Release(
	ctx context.Context,
	o persistence.LockOptions,
) error {
	if o.Exclusivity == persistence.Shared {
		return nil
	}

	o = o.WithDefaults()

	return ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			_, err := ds.driver.UpdateLockRecord(
				ctx,
				db,
				ds.name,
				o,
				o.InstanceID,
				persistence.LockRecord{
					Status:          o.ReleasedStatus(),
					OwnerInstanceID: persistence.UnknownInstanceID,
					LastUpdated:     ds.opts.Now(),
				},
			)
			return err
		},
	)
}
