package message

import (
	"errors"
	"time"

	"github.com/dogmatiq/ledger/position"
	"github.com/google/uuid"
)

// MetaData is a container for meta-data about a message.
type MetaData struct {
	// MessageID is a unique identifier for the message.
	MessageID string

	// StreamName is the name of the stream the message was recorded in. It is
	// empty if the message has not been recorded.
	StreamName StreamName

	// StreamPosition is the position of the message within its stream. The
	// first message in a stream is at position 1.
	StreamPosition uint64

	// GlobalPosition is the position of the message within the global message
	// order of the store. It is nil if the message has not been recorded, or
	// the backend does not assign global positions at write time.
	GlobalPosition position.Token

	// RecordedAt is the time at which the message was recorded.
	RecordedAt time.Time
}

// Validate returns an error if md is invalid.
func (md *MetaData) Validate() error {
	if md.MessageID == "" {
		return errors.New("message ID must not be empty")
	}

	return nil
}

// IsRecorded returns true if the meta-data describes a recorded message.
func (md *MetaData) IsRecorded() bool {
	return md.StreamName != "" && md.StreamPosition != 0
}

// Record returns a copy of m with the meta-data populated to describe its
// position within a stream.
//
// A message ID is generated if m does not already have one.
func Record(
	m Message,
	s StreamName,
	pos uint64,
	global position.Token,
	at time.Time,
) Message {
	if m.MetaData.MessageID == "" {
		m.MetaData.MessageID = uuid.NewString()
	}

	m.MetaData.StreamName = s
	m.MetaData.StreamPosition = pos
	m.MetaData.GlobalPosition = global
	m.MetaData.RecordedAt = at

	return m
}
