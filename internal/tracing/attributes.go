package tracing

import (
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// StreamNameKey is a span attribute key for the name of a stream.
	StreamNameKey = attribute.Key("ledger.stream.name")

	// MessageCountKey is a span attribute key for the number of messages in
	// an append or batch.
	MessageCountKey = attribute.Key("ledger.message.count")

	// MessageIDKey is a span attribute key for the ID of a message.
	MessageIDKey = attribute.Key("ledger.message.id")

	// MessageTypeKey is a span attribute key for the type of a message.
	MessageTypeKey = attribute.Key("ledger.message.type")

	// MessageKindKey is a span attribute key for the kind of a message.
	MessageKindKey = attribute.Key("ledger.message.kind")

	// StreamPositionKey is a span attribute key for the position of a message
	// within its stream.
	StreamPositionKey = attribute.Key("ledger.message.stream_position")

	// GlobalPositionKey is a span attribute key for the global position of a
	// message.
	GlobalPositionKey = attribute.Key("ledger.message.global_position")

	// ProcessorIDKey is a span attribute key for the ID of a processor.
	ProcessorIDKey = attribute.Key("ledger.processor.id")

	// ProcessorKindKey is a span attribute key for the kind of a processor.
	ProcessorKindKey = attribute.Key("ledger.processor.kind")

	// CheckpointReasonKey is a span attribute key for the outcome of storing a
	// checkpoint.
	CheckpointReasonKey = attribute.Key("ledger.checkpoint.reason")
)

// MessageAttributes returns the standard attributes describing a message.
func MessageAttributes(m message.Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		MessageIDKey.String(m.MetaData.MessageID),
		MessageTypeKey.String(m.Type),
		MessageKindKey.String(m.Kind.String()),
		StreamNameKey.String(m.MetaData.StreamName.String()),
		StreamPositionKey.Int64(int64(m.MetaData.StreamPosition)),
		GlobalPositionKey.String(position.String(m.MetaData.GlobalPosition)),
	}
}
