package message

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind is an enumeration of the kinds of message.
type Kind int

const (
	// Event is a message that records something that has happened.
	Event Kind = iota

	// Command is a message that requests that something happen.
	Command
)

func (k Kind) String() string {
	switch k {
	case Event:
		return "event"
	case Command:
		return "command"
	default:
		return fmt.Sprintf("<kind %d>", int(k))
	}
}

// ParseKind parses the string form of a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "event", "E":
		return Event, nil
	case "command", "C":
		return Command, nil
	default:
		return 0, fmt.Errorf("unrecognized message kind %q", s)
	}
}

// Code returns a single-character code for the kind, as stored in the
// database.
func (k Kind) Code() string {
	if k == Command {
		return "C"
	}
	return "E"
}

// Message is an event or command that is (or will be) recorded in a stream.
type Message struct {
	// Kind is the kind of message.
	Kind Kind

	// Type is the application-defined type of the message.
	Type string

	// Data is the opaque message payload.
	Data []byte

	// MetaData contains information about the message.
	MetaData MetaData
}

// NewEvent returns a new event message with a random message ID.
func NewEvent(t string, data []byte) Message {
	return Message{
		Kind: Event,
		Type: t,
		Data: data,
		MetaData: MetaData{
			MessageID: uuid.NewString(),
		},
	}
}

// NewCommand returns a new command message with a random message ID.
func NewCommand(t string, data []byte) Message {
	m := NewEvent(t, data)
	m.Kind = Command
	return m
}

// Types returns the distinct message types of the given messages, in the
// order they first appear.
func Types(messages []Message) []string {
	var types []string
	seen := map[string]struct{}{}

	for _, m := range messages {
		if _, ok := seen[m.Type]; ok {
			continue
		}

		seen[m.Type] = struct{}{}
		types = append(types, m.Type)
	}

	return types
}

// Filter returns the messages whose type is one of the given types.
//
// If types is empty, all messages are returned.
func Filter(messages []Message, types []string) []Message {
	if len(types) == 0 {
		return messages
	}

	var matches []Message

	for _, m := range messages {
		for _, t := range types {
			if m.Type == t {
				matches = append(matches, m)
				break
			}
		}
	}

	return matches
}
