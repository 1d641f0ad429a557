package mongopersistence

import (
	"time"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
)

// streamDocument is the stored form of a stream.
//
// Messages are only ever appended to the messages array, so the message at
// stream position n is always at index n-1.
type streamDocument struct {
	Name     string            `bson:"_id"`
	Version  int64             `bson:"version"`
	Appended int64             `bson:"appended"`
	Messages []messageDocument `bson:"messages,omitempty"`

	// Projections maps inline projection names to their documents.
	Projections map[string][]byte `bson:"projections,omitempty"`
}

// messageDocument is the stored form of a recorded message.
//
// RecordedAt is stored as nanoseconds since the Unix epoch, as BSON dates only
// have millisecond precision.
type messageDocument struct {
	ID         string `bson:"id"`
	Kind       string `bson:"kind"`
	Type       string `bson:"type"`
	Data       []byte `bson:"data,omitempty"`
	Position   int64  `bson:"position"`
	RecordedAt int64  `bson:"recordedAt"`
}

func marshalMessage(m message.Message) messageDocument {
	return messageDocument{
		ID:         m.MetaData.MessageID,
		Kind:       m.Kind.Code(),
		Type:       m.Type,
		Data:       m.Data,
		Position:   int64(m.MetaData.StreamPosition),
		RecordedAt: m.MetaData.RecordedAt.UnixNano(),
	}
}

func unmarshalMessage(
	n message.StreamName,
	doc messageDocument,
	global position.Token,
) (message.Message, error) {
	k, err := message.ParseKind(doc.Kind)
	if err != nil {
		return message.Message{}, err
	}

	return message.Message{
		Kind: k,
		Type: doc.Type,
		Data: clone(doc.Data),
		MetaData: message.MetaData{
			MessageID:      doc.ID,
			StreamName:     n,
			StreamPosition: uint64(doc.Position),
			GlobalPosition: global,
			RecordedAt:     time.Unix(0, doc.RecordedAt),
		},
	}, nil
}

// clone returns a copy of data decoded from a BSON document, which may share
// memory with the document.
func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte{}, data...)
}
