package memorypersistence

import (
	"context"

	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
)

// LoadCheckpoint returns the stored checkpoint for a processor.
func (ds *dataStore) LoadCheckpoint(
	_ context.Context,
	k persistence.CheckpointKey,
) (position.Token, error) {
	ds.db.m.RLock()
	defer ds.db.m.RUnlock()

	return ds.db.checkpoints[k.WithDefaults()], nil
}

// StoreCheckpoint replaces a processor's stored checkpoint.
func (ds *dataStore) StoreCheckpoint(
	_ context.Context,
	k persistence.CheckpointKey,
	lastStored, next position.Token,
) (persistence.StoreResult, error) {
	if err := ds.checkOpen(); err != nil {
		return persistence.StoreResult{}, err
	}

	k = k.WithDefaults()

	ds.db.m.Lock()
	defer ds.db.m.Unlock()

	res, err := persistence.RelationalCheckpointRule.Decide(
		ds.db.checkpoints[k],
		lastStored,
		next,
	)
	if err != nil {
		return persistence.StoreResult{}, err
	}

	if res.Succeeded() {
		ds.db.checkpoints[k] = next
	}

	return res, nil
}
