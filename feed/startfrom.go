package feed

import (
	"context"
	"fmt"

	"github.com/dogmatiq/ledger/position"
)

type startKind int

const (
	beginning startKind = iota
	end
	after
)

// StartFrom determines where a processor without a stored checkpoint begins
// consuming. A processor that has a checkpoint always resumes after it.
type StartFrom struct {
	kind  startKind
	token position.Token
}

var (
	// Beginning starts at the first message in the store.
	Beginning = StartFrom{kind: beginning}

	// End starts after the most recently recorded message, as of the time the
	// processor is started.
	End = StartFrom{kind: end}
)

// After starts after the message at the given position.
func After(t position.Token) StartFrom {
	if t == nil {
		return Beginning
	}

	return StartFrom{kind: after, token: t}
}

// Resolve returns the position after which the processor begins consuming.
//
// checkpoint is the processor's stored checkpoint, or nil if it has none. A
// nil result means the beginning of the store.
func (s StartFrom) Resolve(
	ctx context.Context,
	p Puller,
	checkpoint position.Token,
) (position.Token, error) {
	if checkpoint != nil {
		return checkpoint, nil
	}

	switch s.kind {
	case end:
		return p.Head(ctx)
	case after:
		return s.token, nil
	default:
		return nil, nil
	}
}

func (s StartFrom) String() string {
	switch s.kind {
	case end:
		return "END"
	case after:
		return fmt.Sprintf("AFTER(%s)", s.token)
	default:
		return "BEGINNING"
	}
}
