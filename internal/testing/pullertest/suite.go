package pullertest

import (
	"context"
	"time"

	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// Out is a container for values that are provided by the puller-specific
// "before" function.
type Out struct {
	// Puller is the puller to be tested.
	Puller feed.Puller

	// Store is the store that the puller delivers messages from.
	Store persistence.StreamStore

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration

	// AssumeBlockingDuration specifies how long the tests should wait before
	// assuming a call to Pull() is blocking, waiting for a new message, as
	// opposed to in the process of checking if any messages are already
	// available.
	AssumeBlockingDuration time.Duration
}

const (
	// DefaultTestTimeout is the default test timeout.
	DefaultTestTimeout = 3 * time.Second

	// DefaultAssumeBlockingDuration is the default "assumed blocking duration".
	DefaultAssumeBlockingDuration = 150 * time.Millisecond
)

// Declare declares generic behavioral tests for a specific puller
// implementation.
func Declare(
	before func(context.Context) Out,
	after func(),
) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		out    Out
	)

	ginkgo.Context("standard puller test suite", func() {
		ginkgo.BeforeEach(func() {
			setupCtx, cancelSetup := context.WithTimeout(context.Background(), DefaultTestTimeout)
			defer cancelSetup()

			out = before(setupCtx)

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			if out.AssumeBlockingDuration <= 0 {
				out.AssumeBlockingDuration = DefaultAssumeBlockingDuration
			}

			ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)
		})

		ginkgo.AfterEach(func() {
			if after != nil {
				after()
			}

			cancel()
		})

		appendTo := func(id string, types ...string) []message.Message {
			var messages []message.Message
			for _, t := range types {
				messages = append(messages, message.NewEvent(t, []byte("<"+t+">")))
			}

			_, err := out.Store.Append(ctx, message.NewStreamName("<stream>", id), messages)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			return messages
		}

		// pull starts pulling after the given position and returns a channel
		// of received messages.
		pull := func(after position.Token) (<-chan message.Message, <-chan error) {
			ctx := ctx
			batches := make(chan feed.Batch)
			messages := make(chan message.Message, 100)
			result := make(chan error, 1)

			go func() {
				result <- out.Puller.Pull(ctx, after, batches)
			}()

			go func() {
				for {
					select {
					case b := <-batches:
						for _, m := range b.Messages {
							messages <- m
						}
					case <-ctx.Done():
						return
					}
				}
			}()

			return messages, result
		}

		receive := func(messages <-chan message.Message, n int) []message.Message {
			var received []message.Message

			for len(received) < n {
				select {
				case m := <-messages:
					received = append(received, m)
				case <-ctx.Done():
					ginkgo.Fail("timed out waiting for messages")
				}
			}

			return received
		}

		ids := func(messages []message.Message) []string {
			var result []string
			for _, m := range messages {
				result = append(result, m.MetaData.MessageID)
			}
			return result
		}

		ginkgo.Describe("func Pull()", func() {
			ginkgo.It("delivers messages from all streams in commit order", func() {
				var expect []message.Message
				expect = append(expect, appendTo("a", "<type-1>", "<type-2>")...)
				expect = append(expect, appendTo("b", "<type-1>")...)
				expect = append(expect, appendTo("a", "<type-3>", "<type-1>")...)

				messages, _ := pull(nil)
				received := receive(messages, len(expect))

				gomega.Expect(ids(received)).To(gomega.Equal(ids(expect)))

				for i, m := range received {
					gomega.Expect(m.MetaData.GlobalPosition).NotTo(gomega.BeNil())
					gomega.Expect(m.Type).To(gomega.Equal(expect[i].Type))
					gomega.Expect(m.Data).To(gomega.Equal(expect[i].Data))

					if i > 0 {
						before, err := position.Before(
							received[i-1].MetaData.GlobalPosition,
							m.MetaData.GlobalPosition,
						)
						gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
						gomega.Expect(before).To(gomega.BeTrue())
					}
				}
			})

			ginkgo.It("populates the stream meta-data", func() {
				appendTo("a", "<type-1>", "<type-2>")

				messages, _ := pull(nil)
				received := receive(messages, 2)

				gomega.Expect(received[1].MetaData.StreamName).To(gomega.Equal(message.NewStreamName("<stream>", "a")))
				gomega.Expect(received[1].MetaData.StreamPosition).To(gomega.BeEquivalentTo(2))
			})

			ginkgo.It("resumes after the given position", func() {
				expect := appendTo("a", "<type-1>", "<type-2>", "<type-3>")

				messages, _ := pull(nil)
				received := receive(messages, 3)
				cancel()

				ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)

				messages, _ = pull(received[0].MetaData.GlobalPosition)
				received = receive(messages, 2)

				gomega.Expect(ids(received)).To(gomega.Equal(ids(expect[1:])))
			})

			ginkgo.It("delivers messages that are appended while it is blocking", func() {
				messages, _ := pull(nil)

				time.Sleep(out.AssumeBlockingDuration)

				expect := appendTo("a", "<type-1>")
				received := receive(messages, 1)

				gomega.Expect(ids(received)).To(gomega.Equal(ids(expect)))
			})

			ginkgo.It("returns an error when the context is canceled", func() {
				_, result := pull(nil)

				time.Sleep(out.AssumeBlockingDuration)
				cancel()

				select {
				case err := <-result:
					gomega.Expect(err).To(gomega.MatchError(context.Canceled))
				case <-time.After(out.TestTimeout):
					ginkgo.Fail("timed out waiting for Pull() to return")
				}
			})
		})

		ginkgo.Describe("func Head()", func() {
			ginkgo.It("returns a position after which only new messages are delivered", func() {
				appendTo("a", "<type-1>", "<type-2>")

				head, err := out.Puller.Head(ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				expect := appendTo("b", "<type-3>")

				messages, _ := pull(head)
				received := receive(messages, 1)

				gomega.Expect(ids(received)).To(gomega.Equal(ids(expect)))
			})
		})
	})
}
