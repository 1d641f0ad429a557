package persistence

import (
	"fmt"

	"github.com/dogmatiq/ledger/message"
)

type versionKind int

const (
	anyVersion versionKind = iota
	noStream
	streamExists
	exactVersion
)

// ExpectedVersion is a precondition on the version of a stream.
type ExpectedVersion struct {
	kind    versionKind
	version uint64
}

var (
	// AnyVersion does not check the version of the stream.
	AnyVersion = ExpectedVersion{kind: anyVersion}

	// NoStream requires that the stream does not exist.
	NoStream = ExpectedVersion{kind: noStream}

	// StreamExists requires that the stream exists, at any version.
	StreamExists = ExpectedVersion{kind: streamExists}
)

// ExactVersion requires that the stream is at exactly version v.
//
// A stream that does not exist is at version 0.
func ExactVersion(v uint64) ExpectedVersion {
	return ExpectedVersion{kind: exactVersion, version: v}
}

// IsAny returns true if v does not check the stream version.
func (v ExpectedVersion) IsAny() bool {
	return v.kind == anyVersion
}

// Matches returns true if a stream at the given version satisfies v.
//
// A stream exists if its version is non-zero.
func (v ExpectedVersion) Matches(current uint64) bool {
	switch v.kind {
	case noStream:
		return current == 0
	case streamExists:
		return current != 0
	case exactVersion:
		return current == v.version
	default:
		return true
	}
}

// Check returns a *ConflictError if a stream at the given version does not
// satisfy v.
func (v ExpectedVersion) Check(s message.StreamName, current uint64) error {
	if v.Matches(current) {
		return nil
	}

	return &ConflictError{
		Stream:   s,
		Expected: v,
		Actual:   current,
	}
}

func (v ExpectedVersion) String() string {
	switch v.kind {
	case noStream:
		return "stream does not exist"
	case streamExists:
		return "stream exists"
	case exactVersion:
		return fmt.Sprintf("version %d", v.version)
	default:
		return "any version"
	}
}
