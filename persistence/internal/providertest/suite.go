package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/onsi/ginkgo/v2"
)

// In is a container for values that are provided to the provider-specific
// "before" function.
type In struct {
	// Options must be applied to every data-store opened by the provider.
	Options []persistence.StoreOption

	// Clock is the clock used to evaluate lock timeouts.
	Clock *Clock

	// Logger is the target of log messages produced by the data-stores.
	Logger *logging.BufferedLogger

	// Committed records the messages passed to the after-commit hook.
	Committed *Recorder
}

// Out is a container for values that are provided by the provider-specific
// "before" function.
type Out struct {
	// Provider is the persistence provider under test.
	Provider persistence.Provider

	// CheckpointRule is the rule that the provider's checkpoint store is
	// expected to apply.
	CheckpointRule persistence.CheckpointRule

	// Position returns the n'th position token of the realization used by
	// the provider's checkpoint store. If it is nil, position.Sequence is
	// used.
	Position func(n uint64) position.Token

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration
}

// DefaultTestTimeout is the default test timeout.
const DefaultTestTimeout = 3 * time.Second

// Declare declares generic behavioral tests for a specific persistence provider
// implementation.
func Declare(
	before func(context.Context, In) Out,
	after func(),
) {
	var (
		ctx    context.Context
		cancel func()
		in     In
		out    Out
	)

	ginkgo.Context("standard provider test suite", func() {
		ginkgo.BeforeEach(func() {
			setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSetup()

			in = In{
				Clock:     NewClock(),
				Logger:    &logging.BufferedLogger{},
				Committed: &Recorder{},
			}

			in.Options = []persistence.StoreOption{
				persistence.WithClock(in.Clock.Now),
				persistence.WithLogger(in.Logger),
				persistence.WithInlineProjection(ItemCountProjection),
				persistence.WithAfterCommitHook(in.Committed.Record),
			}

			out = before(setupCtx, in)

			if out.Position == nil {
				out.Position = func(n uint64) position.Token {
					return position.Sequence(n)
				}
			}

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)
		})

		ginkgo.AfterEach(func() {
			if after != nil {
				after()
			}

			cancel()
		})

		declareStreamStoreTests(&ctx, &in, &out)
		declareGlobalReaderTests(&ctx, &in, &out)
		declareCheckpointStoreTests(&ctx, &in, &out)
		declareLockManagerTests(&ctx, &in, &out)
	})
}

// Clock is a manually advanced clock.
type Clock struct {
	m   sync.Mutex
	now time.Time
}

// NewClock returns a clock set to the current time, truncated to the
// microsecond so that it survives a round-trip through any backend.
func NewClock() *Clock {
	return &Clock{
		now: time.Now().Truncate(time.Microsecond),
	}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.m.Lock()
	defer c.m.Unlock()

	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()

	c.now = c.now.Add(d)
}

// Recorder records the messages passed to an after-commit hook.
type Recorder struct {
	m        sync.Mutex
	messages []message.Message
}

// Record is an after-commit hook that records messages.
func (r *Recorder) Record(_ context.Context, messages []message.Message) error {
	r.m.Lock()
	defer r.m.Unlock()

	r.messages = append(r.messages, messages...)

	return nil
}

// Messages returns the recorded messages.
func (r *Recorder) Messages() []message.Message {
	r.m.Lock()
	defer r.m.Unlock()

	return append([]message.Message(nil), r.messages...)
}
