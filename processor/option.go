package processor

import (
	"runtime"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/google/uuid"
)

var (
	// DefaultConcurrency is the default maximum number of processors that
	// handle messages at the same time.
	//
	// It is overridden by the WithConcurrency() option.
	DefaultConcurrency = runtime.GOMAXPROCS(0)

	// DefaultReleaseTimeout is the timeout applied to releasing locks when
	// the consumer stops.
	DefaultReleaseTimeout = 10 * time.Second

	// DefaultBufferSize is the default number of batches buffered between the
	// puller and the processors.
	DefaultBufferSize = 1
)

// ConsumerOption configures the behavior of a consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	InstanceID     string
	LockTimeout    time.Duration
	LockPolicy     persistence.LockPolicy
	HandlerTimeout time.Duration
	Concurrency    int
	Logger         logging.Logger
	Processors     []Processor
}

func resolveOptions(opts []ConsumerOption) consumerOptions {
	o := consumerOptions{
		LockTimeout:    persistence.DefaultLockTimeout,
		LockPolicy:     persistence.SkipPolicy,
		Concurrency:    DefaultConcurrency,
		Logger:         logging.DefaultLogger,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}

	return o
}

// WithInstanceID returns an option that sets the ID of the instance that owns
// the consumer's locks.
//
// If this option is omitted a random ID is generated.
func WithInstanceID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.InstanceID = id
	}
}

// WithLockTimeout returns an option that sets the duration after which the
// locks held by a consumer that has not refreshed them may be taken over by
// another instance.
//
// If this option is omitted or d is zero, persistence.DefaultLockTimeout is
// used.
func WithLockTimeout(d time.Duration) ConsumerOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(o *consumerOptions) {
		if d == 0 {
			d = persistence.DefaultLockTimeout
		}
		o.LockTimeout = d
	}
}

// WithLockPolicy returns an option that determines what happens when a
// processor's lock is held by another instance.
//
// If this option is omitted persistence.SkipPolicy is used.
func WithLockPolicy(p persistence.LockPolicy) ConsumerOption {
	return func(o *consumerOptions) {
		o.LockPolicy = p
	}
}

// WithHandlerTimeout returns an option that sets the timeout applied to each
// call to a processor's handler.
//
// If this option is omitted or d is zero, handlers run without a deadline and
// a handler that never returns blocks its processor.
func WithHandlerTimeout(d time.Duration) ConsumerOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(o *consumerOptions) {
		o.HandlerTimeout = d
	}
}

// WithConcurrency returns an option that sets the maximum number of
// processors that handle messages at the same time.
//
// Messages are always delivered to each individual processor one at a time.
//
// If this option is omitted or n is zero, DefaultConcurrency is used.
func WithConcurrency(n int) ConsumerOption {
	if n < 0 {
		panic("concurrency must not be negative")
	}

	return func(o *consumerOptions) {
		if n == 0 {
			n = DefaultConcurrency
		}
		o.Concurrency = n
	}
}

// WithLogger returns an option that sets the target for log messages produced
// by the consumer.
//
// If this option is omitted or l is nil, logging.DefaultLogger is used.
func WithLogger(l logging.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		if l == nil {
			l = logging.DefaultLogger
		}
		o.Logger = l
	}
}

// WithProcessor returns an option that adds a processor to the consumer.
func WithProcessor(p Processor) ConsumerOption {
	return func(o *consumerOptions) {
		o.Processors = append(o.Processors, p)
	}
}
