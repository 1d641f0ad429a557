package providertest

import (
	"context"
	"sync"

	"github.com/dogmatiq/ledger/internal/x/gomegax"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// declareStreamStoreTests declares a functional test-suite for a specific
// persistence.StreamStore implementation.
func declareStreamStoreTests(
	ctx *context.Context,
	in *In,
	out *Out,
) {
	ginkgo.Describe("type persistence.StreamStore", func() {
		var (
			dataStore persistence.DataStore
			stream    message.StreamName
		)

		ginkgo.BeforeEach(func() {
			var err error
			dataStore, err = out.Provider.Open(*ctx, "<store>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			stream = message.NewStreamName("cart", "1")
		})

		ginkgo.AfterEach(func() {
			if dataStore != nil {
				dataStore.Close()
			}
		})

		ginkgo.Describe("func Append()", func() {
			ginkgo.It("creates the stream on the first append", func() {
				messages := NewMessages(ItemAdded, 3)

				res, err := dataStore.Append(*ctx, stream, messages)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.NextVersion).To(gomega.BeEquivalentTo(3))
				gomega.Expect(res.CreatedNewStream).To(gomega.BeTrue())
				gomega.Expect(IDs(res.Messages)).To(gomega.Equal(IDs(messages)))
				gomega.Expect(StreamPositions(res.Messages)).To(gomega.Equal([]uint64{1, 2, 3}))

				for _, m := range res.Messages {
					gomega.Expect(m.MetaData.StreamName).To(gomega.Equal(stream))
					gomega.Expect(m.MetaData.RecordedAt).To(gomega.BeTemporally("==", in.Clock.Now()))
				}
			})

			ginkgo.It("assigns contiguous stream positions across appends", func() {
				_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.NextVersion).To(gomega.BeEquivalentTo(4))
				gomega.Expect(res.CreatedNewStream).To(gomega.BeFalse())
				gomega.Expect(StreamPositions(res.Messages)).To(gomega.Equal([]uint64{3, 4}))
			})

			ginkgo.It("keeps streams independent", func() {
				_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Append(*ctx, message.NewStreamName("cart", "2"), NewMessages(ItemAdded, 1))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.NextVersion).To(gomega.BeEquivalentTo(1))
				gomega.Expect(res.CreatedNewStream).To(gomega.BeTrue())
			})

			ginkgo.It("returns an error if there are no messages", func() {
				_, err := dataStore.Append(*ctx, stream, nil)
				gomega.Expect(err).To(gomega.Equal(persistence.ErrNoMessages))
			})

			ginkgo.DescribeTable(
				"it appends when the expected version matches",
				func(setup int, v persistence.ExpectedVersion) {
					if setup > 0 {
						_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, setup))
						gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					}

					res, err := dataStore.Append(
						*ctx,
						stream,
						NewMessages(ItemAdded, 1),
						persistence.WithExpectedVersion(v),
					)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(res.NextVersion).To(gomega.BeEquivalentTo(setup + 1))
				},
				ginkgo.Entry("no stream", 0, persistence.NoStream),
				ginkgo.Entry("exact version zero", 0, persistence.ExactVersion(0)),
				ginkgo.Entry("stream exists", 2, persistence.StreamExists),
				ginkgo.Entry("exact version", 2, persistence.ExactVersion(2)),
				ginkgo.Entry("any version", 2, persistence.AnyVersion),
			)

			ginkgo.DescribeTable(
				"it returns a conflict error and appends nothing when the expected version does not match",
				func(setup int, v persistence.ExpectedVersion) {
					if setup > 0 {
						_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, setup))
						gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					}

					_, err := dataStore.Append(
						*ctx,
						stream,
						NewMessages(ItemAdded, 1),
						persistence.WithExpectedVersion(v),
					)
					gomega.Expect(err).To(gomega.Equal(&persistence.ConflictError{
						Stream:   stream,
						Expected: v,
						Actual:   uint64(setup),
					}))

					res, err := dataStore.Read(*ctx, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(res.CurrentVersion).To(gomega.BeEquivalentTo(setup))
					gomega.Expect(res.Messages).To(gomega.HaveLen(setup))
				},
				ginkgo.Entry("no stream", 2, persistence.NoStream),
				ginkgo.Entry("stream exists", 0, persistence.StreamExists),
				ginkgo.Entry("exact version behind", 2, persistence.ExactVersion(1)),
				ginkgo.Entry("exact version ahead", 2, persistence.ExactVersion(3)),
				ginkgo.Entry("exact version on missing stream", 0, persistence.ExactVersion(1)),
			)

			ginkgo.It("allows exactly one of several concurrent appends with the same expected version", func() {
				const writers = 5

				var (
					wg        sync.WaitGroup
					m         sync.Mutex
					successes int
					conflicts int
				)

				for i := 0; i < writers; i++ {
					wg.Add(1)
					go func() {
						defer ginkgo.GinkgoRecover()
						defer wg.Done()

						_, err := dataStore.Append(
							*ctx,
							stream,
							NewMessages(ItemAdded, 2),
							persistence.WithExpectedVersion(persistence.ExactVersion(0)),
						)

						m.Lock()
						defer m.Unlock()

						if err == nil {
							successes++
						} else {
							var conflict *persistence.ConflictError
							gomega.Expect(err).To(gomega.BeAssignableToTypeOf(conflict))
							conflicts++
						}
					}()
				}

				wg.Wait()

				gomega.Expect(successes).To(gomega.Equal(1))
				gomega.Expect(conflicts).To(gomega.Equal(writers - 1))

				res, err := dataStore.Read(*ctx, stream)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(StreamPositions(res.Messages)).To(gomega.Equal([]uint64{1, 2}))
			})

			ginkgo.It("calls the after-commit hooks with the recorded messages", func() {
				res, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(IDs(in.Committed.Messages())).To(gomega.Equal(IDs(res.Messages)))
				gomega.Expect(StreamPositions(in.Committed.Messages())).To(gomega.Equal([]uint64{1, 2}))
			})

			ginkgo.It("does not call the after-commit hooks when the append fails", func() {
				_, err := dataStore.Append(
					*ctx,
					stream,
					NewMessages(ItemAdded, 1),
					persistence.WithExpectedVersion(persistence.StreamExists),
				)
				gomega.Expect(err).Should(gomega.HaveOccurred())
				gomega.Expect(in.Committed.Messages()).To(gomega.BeEmpty())
			})

			ginkgo.When("there is an inline projection", func() {
				ginkgo.It("creates the projection document", func() {
					_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(string(doc)).To(gomega.Equal("2"))
				})

				ginkgo.It("passes the previous document to the projection", func() {
					_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					_, err = dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 3))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(string(doc)).To(gomega.Equal("5"))
				})

				ginkgo.It("only passes messages that the projection handles", func() {
					messages := append(
						NewMessages(CartViewed, 2),
						NewMessages(ItemAdded, 1)...,
					)

					_, err := dataStore.Append(*ctx, stream, messages)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(string(doc)).To(gomega.Equal("1"))
				})

				ginkgo.It("does not run the projection if it handles none of the messages", func() {
					_, err := dataStore.Append(*ctx, stream, NewMessages(CartViewed, 2))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(doc).To(gomega.BeNil())
				})

				ginkgo.It("deletes the document when the projection returns nil", func() {
					_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					_, err = dataStore.Append(*ctx, stream, NewMessages(CartCleared, 1))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, stream)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(doc).To(gomega.BeNil())
				})

				ginkgo.It("keeps documents for different streams separate", func() {
					_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					other := message.NewStreamName("cart", "2")
					_, err = dataStore.Append(*ctx, other, NewMessages(ItemAdded, 1))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					doc, err := dataStore.ReadProjection(*ctx, ItemCountProjection.Name, other)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(string(doc)).To(gomega.Equal("1"))
				})
			})
		})

		ginkgo.Describe("func Read()", func() {
			ginkgo.It("returns an empty result if the stream does not exist", func() {
				res, err := dataStore.Read(*ctx, stream)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.StreamExists).To(gomega.BeFalse())
				gomega.Expect(res.CurrentVersion).To(gomega.BeEquivalentTo(0))
				gomega.Expect(res.Messages).To(gomega.BeEmpty())
			})

			ginkgo.It("returns all messages in stream order", func() {
				messages := NewMessages(ItemAdded, 4)

				_, err := dataStore.Append(*ctx, stream, messages[:2])
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = dataStore.Append(*ctx, stream, messages[2:])
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Read(*ctx, stream)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.StreamExists).To(gomega.BeTrue())
				gomega.Expect(res.CurrentVersion).To(gomega.BeEquivalentTo(4))
				gomega.Expect(res.Messages).To(gomega.HaveLen(int(res.CurrentVersion)))
				gomega.Expect(IDs(res.Messages)).To(gomega.Equal(IDs(messages)))
				gomega.Expect(res.Messages[1].Data).To(gomega.Equal(messages[1].Data))
				gomega.Expect(res.Messages[1].Kind).To(gomega.Equal(message.Event))
			})

			ginkgo.It("preserves the message kind", func() {
				_, err := dataStore.Append(*ctx, stream, []message.Message{
					message.NewCommand("<command>", nil),
				})
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Read(*ctx, stream)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.Messages[0].Kind).To(gomega.Equal(message.Command))
			})

			ginkgo.It("returns the messages exactly as they were recorded", func() {
				appended, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 3))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Read(*ctx, stream)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.Messages).To(gomegax.EqualX(appended.Messages))
			})

			ginkgo.It("returns an inclusive range of messages", func() {
				_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 5))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := dataStore.Read(*ctx, stream, persistence.From(2), persistence.To(4))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.CurrentVersion).To(gomega.BeEquivalentTo(5))
				gomega.Expect(StreamPositions(res.Messages)).To(gomega.Equal([]uint64{2, 3, 4}))
			})

			ginkgo.It("returns a conflict error if the expected version does not match", func() {
				_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = dataStore.Read(
					*ctx,
					stream,
					persistence.ReadExpectingVersion(persistence.ExactVersion(1)),
				)
				gomega.Expect(err).To(gomega.Equal(&persistence.ConflictError{
					Stream:   stream,
					Expected: persistence.ExactVersion(1),
					Actual:   2,
				}))
			})
		})

		ginkgo.Describe("func persistence.Aggregate()", func() {
			ginkgo.It("folds the stream into a state value", func() {
				_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 3))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				res, err := persistence.Aggregate(
					*ctx,
					dataStore,
					stream,
					func(n int, m message.Message) int {
						return n + int(m.MetaData.StreamPosition)
					},
					0,
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.State).To(gomega.Equal(6))
				gomega.Expect(res.CurrentVersion).To(gomega.BeEquivalentTo(3))
				gomega.Expect(res.StreamExists).To(gomega.BeTrue())
			})
		})

		ginkgo.It("does not log anything during normal operation", func() {
			_, err := dataStore.Append(*ctx, stream, NewMessages(ItemAdded, 1))
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(in.Logger.Messages()).To(gomega.BeEmpty())
		})

	})
}
