package boltpersistence

import (
	"time"

	"github.com/dogmatiq/ledger/internal/x/bboltx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.mongodb.org/mongo-driver/bson"
)

// messageRecord is the stored form of a recorded message.
type messageRecord struct {
	MessageID      string `bson:"id"`
	Kind           string `bson:"kind"`
	Type           string `bson:"type"`
	Data           []byte `bson:"data,omitempty"`
	StreamName     string `bson:"stream"`
	StreamPosition int64  `bson:"stream_position"`
	RecordedAt     int64  `bson:"recorded_at"`
}

// lockRecord is the stored form of a processor or projection lock.
type lockRecord struct {
	Status          string `bson:"status"`
	OwnerInstanceID string `bson:"owner"`
	LastUpdated     int64  `bson:"last_updated"`
}

// marshalMessage encodes a recorded message.
func marshalMessage(m message.Message) []byte {
	data, err := bson.Marshal(messageRecord{
		MessageID:      m.MetaData.MessageID,
		Kind:           m.Kind.Code(),
		Type:           m.Type,
		Data:           m.Data,
		StreamName:     m.MetaData.StreamName.String(),
		StreamPosition: int64(m.MetaData.StreamPosition),
		RecordedAt:     m.MetaData.RecordedAt.UnixNano(),
	})
	bboltx.Must(err)
	return data
}

// unmarshalMessage decodes a message stored at global position p.
func unmarshalMessage(p uint64, data []byte) message.Message {
	var rec messageRecord
	bboltx.Must(bson.Unmarshal(data, &rec))

	k, err := message.ParseKind(rec.Kind)
	bboltx.Must(err)

	m := message.Message{
		Kind: k,
		Type: rec.Type,
		Data: clone(rec.Data),
	}

	m.MetaData.MessageID = rec.MessageID
	m.MetaData.StreamName = message.StreamName(rec.StreamName)
	m.MetaData.StreamPosition = uint64(rec.StreamPosition)
	m.MetaData.GlobalPosition = position.Sequence(p)
	m.MetaData.RecordedAt = unmarshalTime(rec.RecordedAt)

	return m
}

// marshalLock encodes a lock record.
func marshalLock(rec persistence.LockRecord) []byte {
	data, err := bson.Marshal(lockRecord{
		Status:          string(rec.Status),
		OwnerInstanceID: rec.OwnerInstanceID,
		LastUpdated:     rec.LastUpdated.UnixNano(),
	})
	bboltx.Must(err)
	return data
}

// unmarshalLock decodes a lock record.
func unmarshalLock(data []byte) persistence.LockRecord {
	var rec lockRecord
	bboltx.Must(bson.Unmarshal(data, &rec))

	return persistence.LockRecord{
		Status:          persistence.Status(rec.Status),
		OwnerInstanceID: rec.OwnerInstanceID,
		LastUpdated:     unmarshalTime(rec.LastUpdated),
	}
}

// unmarshalUint64 decodes an 8-byte big-endian key or value.
func unmarshalUint64(data []byte) uint64 {
	if len(data) != 8 {
		bboltx.Corrupt("expected 8 bytes, got %d", len(data))
	}

	return bboltx.UnmarshalUint64(data)
}

// unmarshalTime decodes a time stored as nanoseconds since the Unix epoch.
func unmarshalTime(ns int64) time.Time {
	return time.Unix(0, ns)
}
