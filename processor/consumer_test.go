package processor_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/persistence/memorypersistence"
	"github.com/dogmatiq/ledger/position"
	. "github.com/dogmatiq/ledger/processor"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Consumer", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		dataStore persistence.DataStore
		poller    *feed.Poller
		logger    *logging.BufferedLogger
		stream    message.StreamName
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)

		poller = &feed.Poller{
			BackoffStrategy: backoff.Constant(5 * time.Millisecond),
		}

		provider := &memorypersistence.Provider{
			Options: []persistence.StoreOption{
				persistence.WithAfterCommitHook(poller.Notify),
			},
		}

		var err error
		dataStore, err = provider.Open(ctx, "<store>")
		Expect(err).ShouldNot(HaveOccurred())

		poller.Source = dataStore.(persistence.GlobalReader)
		logger = &logging.BufferedLogger{}
		stream = message.NewStreamName("cart", "1")
	})

	AfterEach(func() {
		dataStore.Close()
		cancel()
	})

	appendEvents := func(types ...string) {
		var messages []message.Message
		for _, t := range types {
			messages = append(messages, message.NewEvent(t, nil))
		}

		_, err := dataStore.Append(ctx, stream, messages)
		Expect(err).ShouldNot(HaveOccurred())
	}

	newConsumer := func(opts ...ConsumerOption) *Consumer {
		return NewConsumer(
			poller,
			dataStore,
			dataStore,
			append(
				[]ConsumerOption{
					WithInstanceID("<instance>"),
					WithLogger(logger),
				},
				opts...,
			)...,
		)
	}

	stopOn := func(t string) Option {
		return StopAfter(func(m message.Message) bool {
			return m.Type == t
		})
	}

	startAsync := func(c *Consumer) <-chan error {
		result := make(chan error, 1)
		go func() {
			result <- c.Start(ctx)
		}()

		Eventually(func() bool {
			return c.State().Running
		}).Should(BeTrue())

		return result
	}

	processorState := func(c *Consumer, id string) ProcessorState {
		s, ok := c.State().Processor(id)
		Expect(ok).To(BeTrue())
		return s
	}

	Describe("func Start()", func() {
		It("returns an error if there are no processors", func() {
			err := newConsumer().Start(ctx)
			Expect(err).To(Equal(ErrNoProcessors))
			Expect(err).To(MatchError("Cannot start consumer without at least a single processor"))
		})

		It("delivers messages to a reactor in order and stops after StopAfter matches", func() {
			rec := &recorder{}
			appendEvents("<a>", "<b>", "<c>", "<d>", "<e>", "<f>")

			c := newConsumer(
				WithProcessor(NewReactor(
					"<reactor>",
					rec.Handle,
					StopAfter(func(m message.Message) bool {
						return m.MetaData.StreamPosition == 5
					}),
				)),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Positions()).To(Equal([]uint64{1, 2, 3, 4, 5}))

			s := processorState(c, "<reactor>")
			Expect(s.Status).To(Equal(Stopped))
			Expect(s.Handled).To(BeEquivalentTo(5))
			Expect(s.Checkpoint).To(Equal(position.Sequence(5)))
			Expect(c.State().Running).To(BeFalse())

			cp, err := dataStore.LoadCheckpoint(ctx, persistence.CheckpointKey{ProcessorID: "<reactor>"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(cp).To(Equal(position.Sequence(5)))
		})

		It("resumes from the checkpoint when started again", func() {
			rec := &recorder{}
			appendEvents("<a>", "<b>", "<stop>")

			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", rec.Handle, stopOn("<stop>"))),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			appendEvents("<c>", "<stop>")

			err = c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Types()).To(Equal([]string{"<a>", "<b>", "<stop>", "<c>", "<stop>"}))
		})

		It("only delivers the messages that the processor handles", func() {
			rec := &recorder{}
			appendEvents("<a>", "<b>", "<a>", "<b>")

			c := newConsumer(
				WithProcessor(NewReactor(
					"<reactor>",
					rec.Handle,
					Handling("<a>"),
					StopAfter(func(m message.Message) bool {
						return m.MetaData.StreamPosition == 4
					}),
				)),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Positions()).To(Equal([]uint64{1, 3}))

			s := processorState(c, "<reactor>")
			Expect(s.Checkpoint).To(Equal(position.Sequence(4)))
		})

		It("starts each processor after its own checkpoint", func() {
			first := &recorder{}
			second := &recorder{}
			appendEvents("<a>", "<b>", "<c>", "<stop>")

			_, err := dataStore.StoreCheckpoint(
				ctx,
				persistence.CheckpointKey{ProcessorID: "<first>"},
				nil,
				position.Sequence(2),
			)
			Expect(err).ShouldNot(HaveOccurred())

			c := newConsumer(
				WithProcessor(NewReactor("<first>", first.Handle, stopOn("<stop>"))),
				WithProcessor(NewReactor("<second>", second.Handle, stopOn("<stop>"))),
			)

			err = c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(first.Types()).To(Equal([]string{"<c>", "<stop>"}))
			Expect(second.Types()).To(Equal([]string{"<a>", "<b>", "<c>", "<stop>"}))
		})

		It("starts a processor without a checkpoint at the end when configured to do so", func() {
			rec := &recorder{}
			appendEvents("<a>", "<b>")

			c := newConsumer(
				WithProcessor(NewReactor(
					"<reactor>",
					rec.Handle,
					StartingFrom(feed.End),
					stopOn("<stop>"),
				)),
			)

			result := startAsync(c)
			appendEvents("<c>", "<stop>")

			Expect(<-result).To(Succeed())
			Expect(rec.Types()).To(Equal([]string{"<c>", "<stop>"}))
		})

		It("applies batches of handled messages to a projector", func() {
			var (
				m       sync.Mutex
				batches [][]string
			)

			appendEvents("<a>", "<b>", "<a>", "<stop>", "<a>")

			c := newConsumer(
				WithProcessor(NewProjector(
					"<projector>",
					"<projection>",
					func(_ context.Context, messages []message.Message) error {
						m.Lock()
						defer m.Unlock()

						var types []string
						for _, m := range messages {
							types = append(types, m.Type)
						}
						batches = append(batches, types)

						return nil
					},
					Handling("<a>"),
					stopOn("<stop>"),
				)),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(batches).To(Equal([][]string{{"<a>", "<a>"}}))

			s := processorState(c, "<projector>")
			Expect(s.Checkpoint).To(Equal(position.Sequence(4)))
			Expect(s.Handled).To(BeEquivalentTo(2))
		})

		It("stops a failing processor without advancing its checkpoint and lets the others continue", func() {
			failing := &recorder{FailOn: "<b>"}
			healthy := &recorder{}
			appendEvents("<a>", "<b>", "<c>", "<stop>")

			c := newConsumer(
				WithProcessor(NewReactor("<failing>", failing.Handle, stopOn("<stop>"))),
				WithProcessor(NewReactor("<healthy>", healthy.Handle, stopOn("<stop>"))),
			)

			err := c.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("processor '<failing>' failed: <failure>")))

			var herr *HandlerError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.ProcessorID).To(Equal("<failing>"))

			Expect(failing.Types()).To(Equal([]string{"<a>"}))
			Expect(healthy.Types()).To(Equal([]string{"<a>", "<b>", "<c>", "<stop>"}))

			cp, err := dataStore.LoadCheckpoint(ctx, persistence.CheckpointKey{ProcessorID: "<failing>"})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(cp).To(Equal(position.Sequence(1)))

			s := processorState(c, "<failing>")
			Expect(s.Status).To(Equal(Stopped))
			Expect(s.Err).To(Equal(herr))
		})

		It("lets a handler run for as long as it needs by default", func() {
			appendEvents("<slow>")

			handled := false
			slow := func(ctx context.Context, _ message.Message) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(200 * time.Millisecond):
					handled = true
					return nil
				}
			}

			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", slow, stopOn("<slow>"))),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(handled).To(BeTrue())

			s := processorState(c, "<reactor>")
			Expect(s.Checkpoint).To(Equal(position.Sequence(1)))
		})

		It("cancels a handler that runs past the handler timeout when one is set", func() {
			appendEvents("<slow>")

			blocked := func(ctx context.Context, _ message.Message) error {
				<-ctx.Done()
				return ctx.Err()
			}

			c := newConsumer(
				WithHandlerTimeout(20*time.Millisecond),
				WithProcessor(NewReactor("<reactor>", blocked)),
			)

			err := c.Start(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))

			var herr *HandlerError
			Expect(errors.As(err, &herr)).To(BeTrue())
			Expect(herr.ProcessorID).To(Equal("<reactor>"))
		})

		It("stops a processor when another writer changes its checkpoint", func() {
			appendEvents("<a>")

			c := NewConsumer(
				poller,
				conflictingCheckpoints{dataStore},
				dataStore,
				WithLogger(logger),
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			err := c.Start(ctx)

			var conflict *CheckpointConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Reason).To(Equal(persistence.Mismatch))
			Expect(conflict.Attempted).To(Equal(position.Sequence(1)))
		})

		It("skips a processor whose lock is held by another instance", func() {
			appendEvents("<a>")

			ok, err := dataStore.TryAcquire(ctx, persistence.LockOptions{
				ProcessorID: "<reactor>",
				InstanceID:  "<other-instance>",
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			rec := &recorder{}
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", rec.Handle)),
			)

			err = c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(rec.Types()).To(BeEmpty())

			s := processorState(c, "<reactor>")
			Expect(s.Skipped).To(BeTrue())
			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "[reactor <reactor>] lock is held by another instance, skipping",
				},
			))
		})

		It("returns an error under the fail policy if a lock is held by another instance", func() {
			ok, err := dataStore.TryAcquire(ctx, persistence.LockOptions{
				ProcessorID: "<reactor>",
				InstanceID:  "<other-instance>",
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			c := newConsumer(
				WithLockPolicy(persistence.FailPolicy),
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			err = c.Start(ctx)

			var lockErr *persistence.LockNotAcquiredError
			Expect(errors.As(err, &lockErr)).To(BeTrue())
		})

		It("releases its locks when it stops", func() {
			appendEvents("<stop>")

			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle, stopOn("<stop>"))),
			)

			err := c.Start(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			ok, err := dataStore.TryAcquire(ctx, persistence.LockOptions{
				ProcessorID: "<reactor>",
				InstanceID:  "<other-instance>",
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("returns an error if the consumer is already running", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			result := startAsync(c)

			Expect(c.Start(ctx)).To(Equal(ErrConsumerRunning))

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(<-result).To(Succeed())
		})

		It("returns the context error if ctx is canceled", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			result := startAsync(c)
			cancel()

			Expect(<-result).To(Equal(context.Canceled))
		})
	})

	Describe("func Stop()", func() {
		It("stops a running consumer", func() {
			rec := &recorder{}
			appendEvents("<a>", "<b>")

			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", rec.Handle)),
			)

			result := startAsync(c)

			Eventually(func() uint64 {
				return processorState(c, "<reactor>").Handled
			}).Should(BeEquivalentTo(2))

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(<-result).To(Succeed())
			Expect(processorState(c, "<reactor>").Status).To(Equal(Stopped))
		})

		It("can be called more than once", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			result := startAsync(c)

			Expect(c.Stop(ctx)).To(Succeed())
			Expect(c.Stop(ctx)).To(Succeed())
			Expect(<-result).To(Succeed())
		})

		It("does nothing if the consumer is not running", func() {
			c := newConsumer()
			Expect(c.Stop(ctx)).To(Succeed())
		})
	})

	Describe("func Close()", func() {
		It("prevents the consumer from being started again", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			Expect(c.Close(ctx)).To(Succeed())
			Expect(c.Start(ctx)).To(Equal(ErrConsumerClosed))
		})
	})

	Describe("func Add()", func() {
		It("returns an error if the processor ID is already in use", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			err := c.Add(NewReactor("<reactor>", (&recorder{}).Handle))
			Expect(err).To(MatchError("a processor with ID '<reactor>' has already been added"))
		})

		It("returns an error if the processor is invalid", func() {
			err := newConsumer().Add(NewReactor("<reactor>", nil))
			Expect(err).Should(HaveOccurred())
		})
	})

	Describe("func State()", func() {
		It("reports idle processors before the consumer is started", func() {
			c := newConsumer(
				WithProcessor(NewReactor("<reactor>", (&recorder{}).Handle)),
			)

			Expect(c.State()).To(Equal(State{
				Processors: []ProcessorState{
					{ID: "<reactor>", Kind: Reactor, Status: Idle},
				},
			}))
		})
	})
})

// recorder records the messages passed to a reactor's handler.
type recorder struct {
	FailOn string

	m        sync.Mutex
	messages []message.Message
}

func (r *recorder) Handle(_ context.Context, m message.Message) error {
	if m.Type == r.FailOn {
		return errors.New("<failure>")
	}

	r.m.Lock()
	defer r.m.Unlock()

	r.messages = append(r.messages, m)

	return nil
}

func (r *recorder) Types() []string {
	r.m.Lock()
	defer r.m.Unlock()

	var types []string
	for _, m := range r.messages {
		types = append(types, m.Type)
	}
	return types
}

func (r *recorder) Positions() []uint64 {
	r.m.Lock()
	defer r.m.Unlock()

	var positions []uint64
	for _, m := range r.messages {
		positions = append(positions, m.MetaData.StreamPosition)
	}
	return positions
}

// conflictingCheckpoints is a checkpoint store that reports that another
// writer has always changed the checkpoint.
type conflictingCheckpoints struct {
	persistence.CheckpointStore
}

func (conflictingCheckpoints) StoreCheckpoint(
	context.Context,
	persistence.CheckpointKey,
	position.Token,
	position.Token,
) (persistence.StoreResult, error) {
	return persistence.StoreResult{Reason: persistence.Mismatch}, nil
}
