package persistence

import (
	"context"
	"errors"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
)

// ErrNoMessages is returned when Append() is called without any messages.
var ErrNoMessages = errors.New("at least one message must be appended")

// StreamReader reads the messages within a single stream.
type StreamReader interface {
	// Read returns the messages in the stream named n.
	//
	// If the stream does not exist the result has StreamExists set to false
	// and no error is returned.
	Read(ctx context.Context, n message.StreamName, opts ...ReadOption) (ReadResult, error)
}

// StreamStore appends and reads messages within individual streams.
type StreamStore interface {
	StreamReader

	// Append appends messages to the stream named n.
	//
	// If an expected version is given and the stream does not match it, a
	// *ConflictError is returned and nothing is appended.
	Append(ctx context.Context, n message.StreamName, messages []message.Message, opts ...AppendOption) (AppendResult, error)

	// ReadProjection returns the document produced by the named inline
	// projection for the stream named n.
	//
	// It returns nil if the projection has no document for the stream.
	ReadProjection(ctx context.Context, projection string, n message.StreamName) ([]byte, error)
}

// GlobalReader reads messages from all streams in the order they were
// committed.
type GlobalReader interface {
	// ReadAll returns up to limit messages recorded after the given position,
	// in commit order.
	//
	// If after is nil, reading starts at the beginning of the store.
	ReadAll(ctx context.Context, after position.Token, limit int) ([]message.Message, error)

	// Head returns the position of the most recently recorded message, or nil
	// if the store is empty.
	Head(ctx context.Context) (position.Token, error)
}

// AppendResult is the result of a successful append.
type AppendResult struct {
	// NextVersion is the version of the stream after the append.
	NextVersion uint64

	// CreatedNewStream is true if the append created the stream.
	CreatedNewStream bool

	// Messages are the messages as recorded.
	Messages []message.Message
}

// LastGlobalPosition returns the global position of the last recorded message.
func (r AppendResult) LastGlobalPosition() position.Token {
	if len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[len(r.Messages)-1].MetaData.GlobalPosition
}

// ReadResult is the result of reading a stream.
type ReadResult struct {
	// Messages are the messages within the requested range.
	Messages []message.Message

	// CurrentVersion is the version of the stream, regardless of the range
	// that was read. It is zero if the stream does not exist.
	CurrentVersion uint64

	// StreamExists is true if any messages have been appended to the stream.
	StreamExists bool
}

// AppendOption is an option that changes the behavior of an append.
type AppendOption func(*AppendOptions)

// AppendOptions is the result of applying a set of append options.
type AppendOptions struct {
	ExpectedVersion ExpectedVersion
}

// NewAppendOptions returns a new AppendOptions with the given options
// applied.
func NewAppendOptions(opts []AppendOption) AppendOptions {
	o := AppendOptions{
		ExpectedVersion: AnyVersion,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// ReadOption is an option that changes the behavior of a read.
type ReadOption func(*ReadOptions)

// ReadOptions is the result of applying a set of read options.
type ReadOptions struct {
	// From is the first stream position to read. Zero means the start of the
	// stream.
	From uint64

	// To is the last stream position to read, inclusive. Zero means the end of
	// the stream.
	To uint64

	ExpectedVersion ExpectedVersion
}

// NewReadOptions returns a new ReadOptions with the given options applied.
func NewReadOptions(opts []ReadOption) ReadOptions {
	o := ReadOptions{
		ExpectedVersion: AnyVersion,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Includes returns true if the stream position p is within the range.
func (o ReadOptions) Includes(p uint64) bool {
	if p < o.From {
		return false
	}
	return o.To == 0 || p <= o.To
}

// WithExpectedVersion returns an append option that sets the expected version
// of the stream.
func WithExpectedVersion(v ExpectedVersion) AppendOption {
	return func(o *AppendOptions) {
		o.ExpectedVersion = v
	}
}

// ReadExpectingVersion returns a read option that fails the read with a
// *ConflictError if the stream is not at the expected version.
func ReadExpectingVersion(v ExpectedVersion) ReadOption {
	return func(o *ReadOptions) {
		o.ExpectedVersion = v
	}
}

// From returns a read option that starts reading at the given stream
// position, inclusive.
func From(p uint64) ReadOption {
	return func(o *ReadOptions) {
		o.From = p
	}
}

// To returns a read option that stops reading at the given stream position,
// inclusive.
func To(p uint64) ReadOption {
	return func(o *ReadOptions) {
		o.To = p
	}
}

// ValidateAppend returns an error if messages can not be appended.
func ValidateAppend(messages []message.Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}

	for _, m := range messages {
		if m.Type == "" {
			return errors.New("message type must not be empty")
		}
	}

	return nil
}
