package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogmatiq/ledger/position"
)

// DefaultPartition is the partition used when none is specified.
const DefaultPartition = "global"

// CheckpointKey identifies the checkpoint of a single processor.
type CheckpointKey struct {
	ProcessorID string
	Partition   string
	Version     int
}

// WithDefaults returns a copy of k with an empty partition replaced by
// DefaultPartition.
func (k CheckpointKey) WithDefaults() CheckpointKey {
	if k.Partition == "" {
		k.Partition = DefaultPartition
	}
	return k
}

func (k CheckpointKey) String() string {
	k = k.WithDefaults()
	return fmt.Sprintf("%s:%s:%d", k.Partition, k.ProcessorID, k.Version)
}

// CheckpointStore persists the position of the last message handled by each
// processor.
type CheckpointStore interface {
	// LoadCheckpoint returns the stored checkpoint for the processor, or nil if
	// the processor has no checkpoint.
	LoadCheckpoint(ctx context.Context, k CheckpointKey) (position.Token, error)

	// StoreCheckpoint replaces the stored checkpoint with next, provided that
	// the currently stored checkpoint is lastStored.
	StoreCheckpoint(ctx context.Context, k CheckpointKey, lastStored, next position.Token) (StoreResult, error)
}

// Reason is an enumeration of the outcomes of storing a checkpoint.
type Reason int

const (
	// Stored indicates that the checkpoint was stored.
	Stored Reason = iota

	// Ignored indicates that the new checkpoint is at or before the stored
	// checkpoint, so it was not stored. It is not a failure.
	Ignored

	// Mismatch indicates that the stored checkpoint is not the one the caller
	// expected.
	Mismatch

	// CurrentAhead indicates that the stored checkpoint is not the one the
	// caller expected and is ahead of it.
	CurrentAhead
)

func (r Reason) String() string {
	switch r {
	case Stored:
		return "STORED"
	case Ignored:
		return "IGNORED"
	case Mismatch:
		return "MISMATCH"
	case CurrentAhead:
		return "CURRENT_AHEAD"
	default:
		return fmt.Sprintf("<reason %d>", int(r))
	}
}

// StoreResult is the result of storing a checkpoint.
type StoreResult struct {
	Reason Reason

	// Checkpoint is the newly stored checkpoint. It is nil unless Reason is
	// Stored.
	Checkpoint position.Token
}

// Succeeded returns true if the checkpoint was stored.
func (r StoreResult) Succeeded() bool {
	return r.Reason == Stored
}

// IsConflict returns true if another writer has changed the checkpoint.
func (r StoreResult) IsConflict() bool {
	return r.Reason == Mismatch || r.Reason == CurrentAhead
}

// CheckpointRule decides the outcome of storing a checkpoint.
type CheckpointRule struct {
	// DistinguishAhead causes conflicts where the stored checkpoint is ahead of
	// the expected checkpoint to be reported as CurrentAhead rather than
	// Mismatch.
	DistinguishAhead bool
}

var (
	// RelationalCheckpointRule is the rule used by backends that report
	// CurrentAhead.
	RelationalCheckpointRule = CheckpointRule{DistinguishAhead: true}

	// DocumentCheckpointRule is the rule used by backends that only report
	// Mismatch.
	DocumentCheckpointRule = CheckpointRule{}
)

// Decide returns the outcome of storing next when current is the stored
// checkpoint and the caller believes lastStored is stored.
//
// The new checkpoint is stored iff lastStored equals current and next is
// after current. It is ignored iff lastStored equals current and next is at or
// before current.
func (r CheckpointRule) Decide(current, lastStored, next position.Token) (StoreResult, error) {
	if next == nil {
		return StoreResult{}, errors.New("checkpoint must not be nil")
	}

	match, err := position.Equal(lastStored, current)
	if err != nil {
		return StoreResult{}, err
	}

	if !match {
		if r.DistinguishAhead {
			ahead, err := position.Before(lastStored, current)
			if err != nil {
				return StoreResult{}, err
			}

			if ahead {
				return StoreResult{Reason: CurrentAhead}, nil
			}
		}

		return StoreResult{Reason: Mismatch}, nil
	}

	after, err := position.Before(current, next)
	if err != nil {
		return StoreResult{}, err
	}

	if !after {
		return StoreResult{Reason: Ignored}, nil
	}

	return StoreResult{Reason: Stored, Checkpoint: next}, nil
}
