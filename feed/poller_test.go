package feed_test

import (
	"context"
	"time"

	. "github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/internal/testing/pullertest"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/persistence/memorypersistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Poller", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		poller    *Poller
		dataStore persistence.DataStore
		source    *countingReader
	)

	open := func(strategy backoff.Strategy) {
		poller = &Poller{
			BatchSize:       2,
			BackoffStrategy: strategy,
		}

		provider := &memorypersistence.Provider{
			Options: []persistence.StoreOption{
				persistence.WithAfterCommitHook(poller.Notify),
			},
		}

		var err error
		dataStore, err = provider.Open(context.Background(), "<store>")
		Expect(err).ShouldNot(HaveOccurred())

		source = &countingReader{
			GlobalReader: dataStore.(persistence.GlobalReader),
		}
		poller.Source = source
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	})

	AfterEach(func() {
		cancel()
		if dataStore != nil {
			dataStore.Close()
		}
	})

	pullertest.Declare(
		func(ctx context.Context) pullertest.Out {
			open(nil)

			return pullertest.Out{
				Puller: poller,
				Store:  dataStore,
			}
		},
		nil,
	)

	Describe("func Pull()", func() {
		It("polls again immediately when a full batch is returned", func() {
			// A very long delay ensures that any poll that is not immediate
			// would cause the test to time out.
			open(backoff.Constant(time.Hour))

			_, err := dataStore.Append(
				ctx,
				message.NewStreamName("cart", "1"),
				[]message.Message{
					message.NewEvent("<type>", nil),
					message.NewEvent("<type>", nil),
					message.NewEvent("<type>", nil),
					message.NewEvent("<type>", nil),
					message.NewEvent("<type>", nil),
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			batches := make(chan Batch)
			go poller.Pull(ctx, nil, batches)

			var sizes []int
			for i := 0; i < 3; i++ {
				select {
				case b := <-batches:
					sizes = append(sizes, len(b.Messages))
				case <-ctx.Done():
					Fail("timed out waiting for batch")
				}
			}

			Expect(sizes).To(Equal([]int{2, 2, 1}))
		})

		It("is woken by Notify() while it is backing off", func() {
			open(backoff.Constant(time.Hour))

			batches := make(chan Batch)
			go poller.Pull(ctx, nil, batches)

			Eventually(source.Calls).Should(BeNumerically(">=", 1))

			_, err := dataStore.Append(
				ctx,
				message.NewStreamName("cart", "1"),
				[]message.Message{message.NewEvent("<type>", nil)},
			)
			Expect(err).ShouldNot(HaveOccurred())

			select {
			case b := <-batches:
				Expect(b.Messages).To(HaveLen(1))
			case <-ctx.Done():
				Fail("timed out waiting for batch")
			}
		})

		It("returns the error from the source", func() {
			open(nil)
			source.Err = context.DeadlineExceeded

			err := poller.Pull(ctx, nil, make(chan Batch))
			Expect(err).To(Equal(context.DeadlineExceeded))
		})
	})

	Describe("func Head()", func() {
		It("returns the position of the last recorded message", func() {
			open(nil)

			_, err := dataStore.Append(
				ctx,
				message.NewStreamName("cart", "1"),
				[]message.Message{
					message.NewEvent("<type>", nil),
					message.NewEvent("<type>", nil),
				},
			)
			Expect(err).ShouldNot(HaveOccurred())

			head, err := poller.Head(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(head).To(Equal(position.Sequence(2)))
		})
	})
})

var _ = Describe("type Batch", func() {
	Describe("func Last()", func() {
		It("returns nil if the batch is empty", func() {
			Expect(Batch{}.Last()).To(BeNil())
		})

		It("returns the position of the last message", func() {
			b := Batch{
				Messages: []message.Message{
					{MetaData: message.MetaData{GlobalPosition: position.Sequence(3)}},
					{MetaData: message.MetaData{GlobalPosition: position.Sequence(7)}},
				},
			}

			Expect(b.Last()).To(Equal(position.Sequence(7)))
		})
	})
})
