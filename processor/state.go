package processor

import (
	"fmt"

	"github.com/dogmatiq/ledger/position"
)

// Status is the lifecycle status of a processor.
type Status int

const (
	// Idle is the status of a processor that has not been started.
	Idle Status = iota

	// Starting is the status of a processor that is acquiring its lock and
	// resolving its starting position.
	Starting

	// Active is the status of a processor that is consuming messages.
	Active

	// Stopped is the status of a processor that has stopped, either
	// explicitly, because StopAfter matched, or because it failed.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("<status %d>", int(s))
	}
}

// ProcessorState is a snapshot of the state of a single processor.
type ProcessorState struct {
	ID     string
	Kind   Kind
	Status Status

	// Checkpoint is the processor's last stored checkpoint.
	Checkpoint position.Token

	// Handled is the number of messages handled since the consumer was
	// started.
	Handled uint64

	// Skipped is true if the processor did not run because its lock is held
	// by another instance.
	Skipped bool

	// Err is the error that stopped the processor, if any.
	Err error
}

// State is a snapshot of the state of a consumer.
type State struct {
	Running    bool
	Processors []ProcessorState
}

// Processor returns the state of the processor with the given ID.
func (s State) Processor(id string) (ProcessorState, bool) {
	for _, p := range s.Processors {
		if p.ID == id {
			return p, true
		}
	}
	return ProcessorState{}, false
}
