package memorypersistence

import (
	"context"

	"github.com/dogmatiq/ledger/persistence"
)

func keyOf(o persistence.LockOptions) lockKey {
	return lockKey{o.IsProjection(), o.Key()}
}

// TryAcquire attempts to acquire the lock described by o.
func (ds *dataStore) TryAcquire(
	_ context.Context,
	o persistence.LockOptions,
) (bool, error) {
	if err := ds.checkOpen(); err != nil {
		return false, err
	}

	o = o.WithDefaults()
	k := keyOf(o)
	now := ds.opts.Now()

	ds.db.m.Lock()
	defer ds.db.m.Unlock()

	var current *persistence.LockRecord
	if rec, ok := ds.db.locks[k]; ok {
		current = &rec
	}

	if !persistence.CanAcquire(current, o, now) {
		return false, nil
	}

	if o.Exclusivity == persistence.Exclusive {
		ds.db.locks[k] = persistence.LockRecord{
			Status:          o.AcquiredStatus(),
			OwnerInstanceID: o.InstanceID,
			LastUpdated:     now,
		}
	}

	return true, nil
}

// Refresh renews an exclusive lock held by o.InstanceID.
func (ds *dataStore) Refresh(
	_ context.Context,
	o persistence.LockOptions,
) (bool, error) {
	o = o.WithDefaults()
	k := keyOf(o)

	ds.db.m.Lock()
	defer ds.db.m.Unlock()

	rec, ok := ds.db.locks[k]
	if !ok || !rec.Status.IsExclusive() || rec.OwnerInstanceID != o.InstanceID {
		return false, nil
	}

	rec.LastUpdated = ds.opts.Now()
	ds.db.locks[k] = rec

	return true, nil
}

// Release releases the lock described by o if it is held by o.InstanceID.
func (ds *dataStore) Release(
	_ context.Context,
	o persistence.LockOptions,
) error {
	if o.Exclusivity == persistence.Shared {
		return nil
	}

	o = o.WithDefaults()
	k := keyOf(o)

	ds.db.m.Lock()
	defer ds.db.m.Unlock()

	rec, ok := ds.db.locks[k]
	if !ok || rec.OwnerInstanceID != o.InstanceID {
		return nil
	}

	ds.db.locks[k] = persistence.LockRecord{
		Status:          o.ReleasedStatus(),
		OwnerInstanceID: persistence.UnknownInstanceID,
		LastUpdated:     ds.opts.Now(),
	}

	return nil
}
