package feed

import (
	"context"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
)

// Batch is a group of recorded messages delivered by a Puller, in commit
// order.
type Batch struct {
	Messages []message.Message
}

// Last returns the global position of the last message in the batch, or nil
// if the batch is empty.
func (b Batch) Last() position.Token {
	if len(b.Messages) == 0 {
		return nil
	}
	return b.Messages[len(b.Messages)-1].MetaData.GlobalPosition
}

// Puller delivers the messages recorded in a store, from all streams, in
// commit order.
type Puller interface {
	// Pull sends batches of messages recorded after the given position to out
	// until ctx is canceled or an error occurs.
	//
	// If after is nil, pulling starts at the beginning of the store. Pull
	// never returns a nil error.
	Pull(ctx context.Context, after position.Token, out chan<- Batch) error

	// Head returns the position of the most recently recorded message, or nil
	// if no messages have been recorded.
	Head(ctx context.Context) (position.Token, error)
}
