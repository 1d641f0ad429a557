package persistence

import (
	"time"

	"github.com/dogmatiq/dodeca/logging"
)

var (
	// DefaultLogger is the default target for log messages produced by a
	// data-store.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger

	// DefaultClock is the default function used to obtain the current time.
	//
	// It is overridden by the WithClock() option.
	DefaultClock = time.Now
)

// StoreOption configures the behavior of a data-store.
type StoreOption func(*StoreOptions)

// StoreOptions is the result of applying a set of store options.
type StoreOptions struct {
	Hooks Hooks
	Now   func() time.Time
}

// NewStoreOptions returns a new StoreOptions with the given options applied.
func NewStoreOptions(opts []StoreOption) StoreOptions {
	o := StoreOptions{
		Hooks: Hooks{
			Logger: DefaultLogger,
		},
		Now: DefaultClock,
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// WithInlineProjection returns a store option that registers an inline
// projection.
func WithInlineProjection(p InlineProjection) StoreOption {
	if p.ProjectionName() == "" {
		panic("projection name must not be empty")
	}

	return func(opts *StoreOptions) {
		for _, x := range opts.Hooks.Projections {
			if x.ProjectionName() == p.ProjectionName() {
				panic("can not register multiple inline projections named '" + p.ProjectionName() + "'")
			}
		}

		opts.Hooks.Projections = append(opts.Hooks.Projections, p)
	}
}

// WithAfterCommitHook returns a store option that registers a function to be
// called after each successful append.
func WithAfterCommitHook(h AfterCommitHook) StoreOption {
	return func(opts *StoreOptions) {
		opts.Hooks.AfterCommit = append(opts.Hooks.AfterCommit, h)
	}
}

// WithLogger returns a store option that sets the target for log messages
// produced by the store.
//
// If this option is omitted or l is nil, DefaultLogger is used.
func WithLogger(l logging.Logger) StoreOption {
	return func(opts *StoreOptions) {
		if l == nil {
			l = DefaultLogger
		}
		opts.Hooks.Logger = l
	}
}

// WithClock returns a store option that sets the function used to obtain the
// current time, which is used to record messages and evaluate lock timeouts.
//
// If this option is omitted or now is nil, DefaultClock is used.
func WithClock(now func() time.Time) StoreOption {
	return func(opts *StoreOptions) {
		if now == nil {
			now = DefaultClock
		}
		opts.Now = now
	}
}
