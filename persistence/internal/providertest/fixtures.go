package providertest

import (
	"context"
	"strconv"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
)

const (
	// ItemAdded is the type of message that increments the item count.
	ItemAdded = "item-added"

	// CartCleared is the type of message that deletes the item count.
	CartCleared = "cart-cleared"

	// CartViewed is a type of message that no projection handles.
	CartViewed = "cart-viewed"
)

// ItemCountProjection is an inline projection that counts the ItemAdded
// messages in each stream, and deletes the count on CartCleared.
var ItemCountProjection = persistence.InlineProjectionFunc{
	Name:  "item-count",
	Types: []string{ItemAdded, CartCleared},
	Func: func(
		_ context.Context,
		doc []byte,
		messages []message.Message,
	) ([]byte, error) {
		n := 0
		if doc != nil {
			var err error
			n, err = strconv.Atoi(string(doc))
			if err != nil {
				return nil, err
			}
		}

		for _, m := range messages {
			if m.Type == CartCleared {
				return nil, nil
			}
			n++
		}

		return []byte(strconv.Itoa(n)), nil
	},
}

// NewMessages returns n new events of the given type.
func NewMessages(t string, n int) []message.Message {
	var messages []message.Message

	for i := 0; i < n; i++ {
		messages = append(
			messages,
			message.NewEvent(t, []byte("<data "+strconv.Itoa(i)+">")),
		)
	}

	return messages
}

// Types returns the types of the given messages.
func Types(messages []message.Message) []string {
	var types []string
	for _, m := range messages {
		types = append(types, m.Type)
	}
	return types
}

// IDs returns the IDs of the given messages.
func IDs(messages []message.Message) []string {
	var ids []string
	for _, m := range messages {
		ids = append(ids, m.MetaData.MessageID)
	}
	return ids
}

// StreamPositions returns the stream positions of the given messages.
func StreamPositions(messages []message.Message) []uint64 {
	var positions []uint64
	for _, m := range messages {
		positions = append(positions, m.MetaData.StreamPosition)
	}
	return positions
}
