package processor

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
)

var (
	// ErrNoProcessors is returned by Consumer.Start() if the consumer has no
	// processors.
	ErrNoProcessors = errors.New("Cannot start consumer without at least a single processor")

	// ErrConsumerRunning is returned by Consumer.Start() and Consumer.Add() if
	// the consumer is already running.
	ErrConsumerRunning = errors.New("consumer is already running")

	// ErrConsumerClosed is returned by Consumer.Start() and Consumer.Add() if
	// the consumer has been closed.
	ErrConsumerClosed = errors.New("consumer is closed")

	// ErrLockLost indicates that a processor stopped because another instance
	// took over its lock.
	ErrLockLost = errors.New("lock was taken over by another instance")
)

// CheckpointConflictError indicates that a processor stopped because another
// writer changed its checkpoint.
type CheckpointConflictError struct {
	ProcessorID string
	Reason      persistence.Reason
	Expected    position.Token
	Attempted   position.Token
}

func (e *CheckpointConflictError) Error() string {
	return fmt.Sprintf(
		"checkpoint conflict for processor '%s' (%s): expected stored checkpoint to be %s when storing %s",
		e.ProcessorID,
		e.Reason,
		describe(e.Expected),
		describe(e.Attempted),
	)
}

// HandlerError wraps an error returned by a processor's handler.
type HandlerError struct {
	ProcessorID string
	Cause       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("processor '%s' failed: %s", e.ProcessorID, e.Cause)
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

func describe(t position.Token) string {
	if t == nil {
		return "<none>"
	}
	return t.String()
}
