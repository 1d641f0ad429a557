package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
)

// Kind is an enumeration of the kinds of processor.
type Kind int

const (
	// Reactor is a processor that handles messages one at a time, typically
	// to cause side effects.
	Reactor Kind = iota

	// Projector is a processor that applies batches of messages to a
	// projection.
	Projector
)

func (k Kind) String() string {
	switch k {
	case Reactor:
		return "reactor"
	case Projector:
		return "projector"
	default:
		return fmt.Sprintf("<kind %d>", int(k))
	}
}

// Processor consumes the messages recorded in a store, tracking its progress
// with a checkpoint.
type Processor struct {
	// Kind is the kind of processor. It determines which handler is called.
	Kind Kind

	// ID uniquely identifies the processor.
	ID string

	// ProjectionName is the name of the projection that a projector
	// maintains. If it is non-empty, the projection's lock record is used
	// instead of the processor's.
	ProjectionName string

	// Partition is the checkpoint and lock partition. If it is empty,
	// persistence.DefaultPartition is used.
	Partition string

	// Version distinguishes checkpoints for different versions of the same
	// processor.
	Version int

	// CanHandle is the set of message types that the processor handles. If it
	// is empty the processor handles all messages.
	CanHandle []string

	// EachMessage handles a single message. It is called by reactors.
	EachMessage func(ctx context.Context, m message.Message) error

	// Project applies a batch of messages. It is called by projectors.
	Project func(ctx context.Context, messages []message.Message) error

	// StopAfter returns true if the processor should stop after m. If it is
	// nil the processor runs until it is stopped explicitly.
	StopAfter func(m message.Message) bool

	// StartFrom determines where the processor begins if it has no
	// checkpoint.
	StartFrom feed.StartFrom

	// Exclusivity is the mode of the lock that the processor holds while it
	// is running.
	Exclusivity persistence.Exclusivity
}

// Option configures a processor.
type Option func(*Processor)

// NewReactor returns a reactor that handles messages using fn.
func NewReactor(
	id string,
	fn func(context.Context, message.Message) error,
	opts ...Option,
) Processor {
	p := Processor{
		Kind:        Reactor,
		ID:          id,
		EachMessage: fn,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// NewProjector returns a projector that applies batches of messages to the
// named projection using fn.
func NewProjector(
	id, projection string,
	fn func(context.Context, []message.Message) error,
	opts ...Option,
) Processor {
	p := Processor{
		Kind:           Projector,
		ID:             id,
		ProjectionName: projection,
		Project:        fn,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// Handling returns an option that limits the messages a processor handles to
// the given types.
func Handling(types ...string) Option {
	return func(p *Processor) {
		p.CanHandle = append(p.CanHandle, types...)
	}
}

// StopAfter returns an option that stops the processor after the first
// message for which fn returns true.
func StopAfter(fn func(message.Message) bool) Option {
	return func(p *Processor) {
		p.StopAfter = fn
	}
}

// StartingFrom returns an option that sets where the processor begins if it
// has no checkpoint.
func StartingFrom(s feed.StartFrom) Option {
	return func(p *Processor) {
		p.StartFrom = s
	}
}

// InPartition returns an option that sets the processor's partition.
func InPartition(partition string) Option {
	return func(p *Processor) {
		p.Partition = partition
	}
}

// AtVersion returns an option that sets the processor's version.
func AtVersion(v int) Option {
	return func(p *Processor) {
		p.Version = v
	}
}

// WithSharedLock returns an option that causes the processor to hold a shared
// lock rather than an exclusive one.
func WithSharedLock() Option {
	return func(p *Processor) {
		p.Exclusivity = persistence.Shared
	}
}

// Validate returns an error if p is not a valid processor.
func (p Processor) Validate() error {
	if p.ID == "" {
		return errors.New("processor ID must not be empty")
	}

	switch p.Kind {
	case Reactor:
		if p.EachMessage == nil {
			return fmt.Errorf("reactor '%s' has no message handler", p.ID)
		}
	case Projector:
		if p.Project == nil {
			return fmt.Errorf("projector '%s' has no projection handler", p.ID)
		}
	default:
		return fmt.Errorf("processor '%s' has unrecognized kind %s", p.ID, p.Kind)
	}

	return nil
}

// Handles returns true if the processor handles m.
func (p Processor) Handles(m message.Message) bool {
	if len(p.CanHandle) == 0 {
		return true
	}

	for _, t := range p.CanHandle {
		if m.Type == t {
			return true
		}
	}

	return false
}

// CheckpointKey returns the key of the processor's checkpoint.
func (p Processor) CheckpointKey() persistence.CheckpointKey {
	return persistence.CheckpointKey{
		ProcessorID: p.ID,
		Partition:   p.Partition,
		Version:     p.Version,
	}.WithDefaults()
}

// LockOptions returns the options for the processor's lock.
func (p Processor) LockOptions(instanceID string, timeout time.Duration) persistence.LockOptions {
	return persistence.LockOptions{
		ProcessorID:    p.ID,
		ProjectionName: p.ProjectionName,
		Partition:      p.Partition,
		Version:        p.Version,
		InstanceID:     instanceID,
		Exclusivity:    p.Exclusivity,
		Timeout:        timeout,
	}.WithDefaults()
}
