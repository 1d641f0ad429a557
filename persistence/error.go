package persistence

import (
	"fmt"

	"github.com/dogmatiq/ledger/message"
)

// ConflictError is the error returned when a stream's version does not match
// the version the caller expected.
type ConflictError struct {
	Stream   message.StreamName
	Expected ExpectedVersion
	Actual   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"expected version conflict on stream '%s': expected %s, actual version is %d",
		e.Stream,
		e.Expected,
		e.Actual,
	)
}

// LockNotAcquiredError is the error returned when a lock could not be acquired
// under the PolicyFail lock policy.
type LockNotAcquiredError struct {
	Key         string
	Exclusivity Exclusivity
}

func (e *LockNotAcquiredError) Error() string {
	return fmt.Sprintf(
		"unable to acquire %s lock on '%s'",
		e.Exclusivity,
		e.Key,
	)
}
