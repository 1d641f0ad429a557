package sqlpersistence

import (
	"context"
	"database/sql"

	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
)

// LoadCheckpoint returns the stored checkpoint for a processor.
func (ds *dataStore) LoadCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
) (cp position.Token, _ error) {
	k = k.WithDefaults()

	return cp, ds.withDB(
		ctx,
		func(ctx context.Context, db *sql.DB) error {
			s, ok, err := ds.driver.SelectCheckpoint(ctx, db, ds.name, k)
			if !ok || err != nil {
				return err
			}

			cp, err = parseCheckpoint(s)
			return err
		},
	)
}

// StoreCheckpoint replaces a processor's stored checkpoint.
func (ds *dataStore) StoreCheckpoint(
	ctx context.Context,
	k persistence.CheckpointKey,
	lastStored, next position.Token,
) (res persistence.StoreResult, err error) {
	ctx, span := tracing.Start(
		ctx,
		"store checkpoint",
		tracing.ProcessorIDKey.String(k.ProcessorID),
	)
	defer func() {
		span.SetAttributes(tracing.CheckpointReasonKey.String(res.Reason.String()))
		tracing.End(span, err)
	}()

	k = k.WithDefaults()

	return res, ds.withTx(
		ctx,
		func(ctx context.Context, tx *sql.Tx) error {
			s, ok, err := ds.driver.LockCheckpoint(ctx, tx, ds.name, k)
			if err != nil {
				return err
			}

			if !ok {
				res, err = persistence.RelationalCheckpointRule.Decide(nil, lastStored, next)
				if err != nil || !res.Succeeded() {
					return err
				}

				inserted, err := ds.driver.InsertCheckpoint(ctx, tx, ds.name, k, next.String())
				if inserted || err != nil {
					return err
				}

				// A concurrent transaction inserted the checkpoint first, it
				// is compared against lastStored below.
				s, _, err = ds.driver.LockCheckpoint(ctx, tx, ds.name, k)
				if err != nil {
					return err
				}
			}

			current, err := parseCheckpoint(s)
			if err != nil {
				return err
			}

			res, err = persistence.RelationalCheckpointRule.Decide(current, lastStored, next)
			if err != nil || !res.Succeeded() {
				return err
			}

			return ds.driver.UpdateCheckpoint(ctx, tx, ds.name, k, next.String())
		},
	)
}

func parseCheckpoint(s string) (position.Token, error) {
	return position.ParseSequence(s)
}
