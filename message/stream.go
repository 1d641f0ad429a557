package message

import (
	"fmt"
	"strings"
)

// StreamName identifies a stream, in the form "type:id".
type StreamName string

// NewStreamName returns the name of the stream with the given type and ID.
func NewStreamName(t, id string) StreamName {
	return StreamName(t + ":" + id)
}

// ParseStreamName parses a stream name, returning an error if it is not in
// the form "type:id".
func ParseStreamName(s string) (StreamName, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", fmt.Errorf("invalid stream name %q, expected type:id", s)
	}

	return StreamName(s), nil
}

// Type returns the stream type, or the whole name if it has no type
// component.
func (n StreamName) Type() string {
	if i := strings.IndexByte(string(n), ':'); i != -1 {
		return string(n[:i])
	}
	return string(n)
}

// ID returns the stream ID, or an empty string if the name has no type
// component.
func (n StreamName) ID() string {
	if i := strings.IndexByte(string(n), ':'); i != -1 {
		return string(n[i+1:])
	}
	return ""
}

func (n StreamName) String() string {
	return string(n)
}
