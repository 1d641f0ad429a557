package persistence

import (
	"context"

	"github.com/dogmatiq/ledger/message"
)

// AggregateResult is the result of folding a stream's messages into a state
// value.
type AggregateResult[S any] struct {
	State          S
	CurrentVersion uint64
	StreamExists   bool
}

// Aggregate reads the stream named n and folds evolve over its messages,
// starting with the initial state.
func Aggregate[S any](
	ctx context.Context,
	r StreamReader,
	n message.StreamName,
	evolve func(S, message.Message) S,
	initial S,
	opts ...ReadOption,
) (AggregateResult[S], error) {
	res, err := r.Read(ctx, n, opts...)
	if err != nil {
		return AggregateResult[S]{}, err
	}

	state := initial
	for _, m := range res.Messages {
		state = evolve(state, m)
	}

	return AggregateResult[S]{
		State:          state,
		CurrentVersion: res.CurrentVersion,
		StreamExists:   res.StreamExists,
	}, nil
}
