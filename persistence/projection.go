package persistence

import (
	"context"
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/message"
)

// InlineProjection is a read-model update that is computed within the same
// atomic unit as the append that triggers it.
type InlineProjection interface {
	// ProjectionName returns the unique name of the projection.
	ProjectionName() string

	// CanHandle returns the message types that the projection handles.
	CanHandle() []string

	// Project returns the new projection document for a stream, given its
	// previous document and the newly recorded messages that the projection
	// can handle.
	//
	// doc is nil if the stream does not yet have a document. Returning a nil
	// document deletes it.
	Project(ctx context.Context, doc []byte, messages []message.Message) ([]byte, error)
}

// InlineProjectionFunc is an InlineProjection implemented by a function.
type InlineProjectionFunc struct {
	Name  string
	Types []string
	Func  func(context.Context, []byte, []message.Message) ([]byte, error)
}

// ProjectionName returns p.Name.
func (p InlineProjectionFunc) ProjectionName() string {
	return p.Name
}

// CanHandle returns p.Types.
func (p InlineProjectionFunc) CanHandle() []string {
	return p.Types
}

// Project calls p.Func.
func (p InlineProjectionFunc) Project(
	ctx context.Context,
	doc []byte,
	messages []message.Message,
) ([]byte, error) {
	return p.Func(ctx, doc, messages)
}

// ProjectionDocuments loads and saves inline projection documents for a
// single stream within an atomic unit of work.
type ProjectionDocuments interface {
	// LoadProjection returns the named projection's document, or nil if there
	// is none.
	LoadProjection(ctx context.Context, projection string) ([]byte, error)

	// SaveProjection saves the named projection's document. A nil document
	// deletes it.
	SaveProjection(ctx context.Context, projection string, doc []byte) error
}

// AfterCommitHook is a function that is called after messages are committed.
type AfterCommitHook func(ctx context.Context, messages []message.Message) error

// Hooks is the set of inline projections and after-commit hooks attached to a
// stream store.
type Hooks struct {
	Projections []InlineProjection
	AfterCommit []AfterCommitHook
	Logger      logging.Logger
}

// HasProjections returns true if any projection handles any of the given
// messages.
func (h *Hooks) HasProjections(messages []message.Message) bool {
	for _, p := range h.Projections {
		if len(message.Filter(messages, p.CanHandle())) > 0 {
			return true
		}
	}
	return false
}

// Project runs each inline projection that handles any of the recorded
// messages.
func (h *Hooks) Project(
	ctx context.Context,
	docs ProjectionDocuments,
	recorded []message.Message,
) error {
	for _, p := range h.Projections {
		matches := message.Filter(recorded, p.CanHandle())
		if len(matches) == 0 {
			continue
		}

		name := p.ProjectionName()

		prev, err := docs.LoadProjection(ctx, name)
		if err != nil {
			return err
		}

		next, err := p.Project(ctx, prev, matches)
		if err != nil {
			return fmt.Errorf("inline projection '%s' failed: %w", name, err)
		}

		if prev == nil && next == nil {
			continue
		}

		if err := docs.SaveProjection(ctx, name, next); err != nil {
			return err
		}
	}

	return nil
}

// Committed runs the after-commit hooks.
//
// Errors and panics are logged and otherwise ignored; the messages have
// already been committed.
func (h *Hooks) Committed(ctx context.Context, recorded []message.Message) {
	if len(recorded) == 0 {
		return
	}

	for _, fn := range h.AfterCommit {
		if err := runAfterCommit(ctx, fn, recorded); err != nil {
			logging.Log(
				h.logger(),
				"after-commit hook failed for %d message(s) on stream '%s': %s",
				len(recorded),
				recorded[0].MetaData.StreamName,
				err,
			)
		}
	}
}

// runAfterCommit calls fn, converting a panic into an error.
func runAfterCommit(
	ctx context.Context,
	fn AfterCommitHook,
	recorded []message.Message,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx, recorded)
}

func (h *Hooks) logger() logging.Logger {
	if h.Logger == nil {
		return logging.DefaultLogger
	}
	return h.Logger
}
