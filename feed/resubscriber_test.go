package feed_test

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	. "github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/position"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Resubscriber", func() {
	var (
		ctx         context.Context
		cancel      context.CancelFunc
		stub        *pullerStub
		logger      *logging.BufferedLogger
		resub       *Resubscriber
		unavailable error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)

		unavailable = errors.New("<unavailable>")
		stub = &pullerStub{}
		logger = &logging.BufferedLogger{}

		resub = &Resubscriber{
			Puller: stub,
			IsUnavailable: func(err error) bool {
				return errors.Is(err, unavailable)
			},
			BackoffStrategy: backoff.Constant(time.Millisecond),
			Logger:          logger,
		}
	})

	AfterEach(func() {
		cancel()
	})

	Describe("func Pull()", func() {
		It("resubscribes after the last delivered position when the backend is unavailable", func() {
			var starts []position.Token

			stub.PullFunc = func(
				ctx context.Context,
				after position.Token,
				out chan<- Batch,
			) error {
				starts = append(starts, after)

				if len(starts) == 1 {
					out <- batchOf(1, 2)
					return unavailable
				}

				out <- batchOf(3)
				<-ctx.Done()
				return ctx.Err()
			}

			out := make(chan Batch)
			result := make(chan error, 1)
			go func() {
				result <- resub.Pull(ctx, nil, out)
			}()

			Expect((<-out).Last()).To(Equal(position.Sequence(2)))
			Expect((<-out).Last()).To(Equal(position.Sequence(3)))

			cancel()
			Expect(<-result).To(Equal(context.Canceled))

			Expect(starts).To(Equal([]position.Token{nil, position.Sequence(2)}))
			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "feed is unavailable, resubscribing after 00000000000000000002 in 1ms: <unavailable>",
				},
			))
		})

		It("returns errors that do not indicate unavailability", func() {
			stub.PullFunc = func(context.Context, position.Token, chan<- Batch) error {
				return errors.New("<permanent>")
			}

			err := resub.Pull(ctx, nil, make(chan Batch))
			Expect(err).To(MatchError("<permanent>"))
		})

		It("does not resubscribe if IsUnavailable is nil", func() {
			resub.IsUnavailable = nil
			calls := 0

			stub.PullFunc = func(context.Context, position.Token, chan<- Batch) error {
				calls++
				return unavailable
			}

			err := resub.Pull(ctx, nil, make(chan Batch))
			Expect(err).To(Equal(unavailable))
			Expect(calls).To(Equal(1))
		})

		It("gives up after the maximum number of consecutive failures", func() {
			resub.MaxAttempts = 3
			calls := 0

			stub.PullFunc = func(context.Context, position.Token, chan<- Batch) error {
				calls++
				return unavailable
			}

			err := resub.Pull(ctx, nil, make(chan Batch))
			Expect(err).To(Equal(unavailable))
			Expect(calls).To(Equal(3))
		})
	})

	Describe("func Head()", func() {
		It("returns the head of the underlying puller", func() {
			stub.HeadFunc = func(context.Context) (position.Token, error) {
				return position.Sequence(5), nil
			}

			head, err := resub.Head(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(head).To(Equal(position.Sequence(5)))
		})
	})
})
