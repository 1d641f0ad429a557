package providertest

import (
	"context"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// declareGlobalReaderTests declares a functional test-suite for a specific
// persistence.GlobalReader implementation.
//
// The tests are skipped if the provider's data-stores do not implement
// persistence.GlobalReader.
func declareGlobalReaderTests(
	ctx *context.Context,
	in *In,
	out *Out,
) {
	ginkgo.Describe("type persistence.GlobalReader", func() {
		var (
			dataStore persistence.DataStore
			reader    persistence.GlobalReader
		)

		ginkgo.BeforeEach(func() {
			var err error
			dataStore, err = out.Provider.Open(*ctx, "<store>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			var ok bool
			reader, ok = dataStore.(persistence.GlobalReader)
			if !ok {
				ginkgo.Skip("data-store does not implement persistence.GlobalReader")
			}
		})

		ginkgo.AfterEach(func() {
			if dataStore != nil {
				dataStore.Close()
			}
		})

		ginkgo.Describe("func ReadAll()", func() {
			ginkgo.It("returns nothing when the store is empty", func() {
				messages, err := reader.ReadAll(*ctx, nil, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(messages).To(gomega.BeEmpty())
			})

			ginkgo.It("returns messages from all streams in commit order", func() {
				first := NewMessages(ItemAdded, 2)
				second := NewMessages(ItemAdded, 1)
				third := NewMessages(CartViewed, 2)

				_, err := dataStore.Append(*ctx, message.NewStreamName("cart", "1"), first)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = dataStore.Append(*ctx, message.NewStreamName("cart", "2"), second)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				_, err = dataStore.Append(*ctx, message.NewStreamName("cart", "1"), third)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				messages, err := reader.ReadAll(*ctx, nil, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				var expect []message.Message
				expect = append(expect, first...)
				expect = append(expect, second...)
				expect = append(expect, third...)

				gomega.Expect(IDs(messages)).To(gomega.Equal(IDs(expect)))
				expectAscending(messages)
			})

			ginkgo.It("resumes after the given position", func() {
				_, err := dataStore.Append(*ctx, message.NewStreamName("cart", "1"), NewMessages(ItemAdded, 5))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				all, err := reader.ReadAll(*ctx, nil, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(all).To(gomega.HaveLen(5))

				messages, err := reader.ReadAll(*ctx, all[1].MetaData.GlobalPosition, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(IDs(messages)).To(gomega.Equal(IDs(all[2:])))
			})

			ginkgo.It("returns at most limit messages", func() {
				_, err := dataStore.Append(*ctx, message.NewStreamName("cart", "1"), NewMessages(ItemAdded, 5))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				messages, err := reader.ReadAll(*ctx, nil, 3)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(StreamPositions(messages)).To(gomega.Equal([]uint64{1, 2, 3}))
			})

			ginkgo.It("returns nothing when reading after the head", func() {
				_, err := dataStore.Append(*ctx, message.NewStreamName("cart", "1"), NewMessages(ItemAdded, 2))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				head, err := reader.Head(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				messages, err := reader.ReadAll(*ctx, head, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(messages).To(gomega.BeEmpty())
			})
		})

		ginkgo.Describe("func Head()", func() {
			ginkgo.It("returns nil when the store is empty", func() {
				head, err := reader.Head(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(head).To(gomega.BeNil())
			})

			ginkgo.It("returns the position of the last recorded message", func() {
				res, err := dataStore.Append(*ctx, message.NewStreamName("cart", "1"), NewMessages(ItemAdded, 3))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				messages, err := reader.ReadAll(*ctx, nil, 10)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				head, err := reader.Head(*ctx)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(position.Equal(head, messages[len(messages)-1].MetaData.GlobalPosition)).To(gomega.BeTrue())

				if p := res.LastGlobalPosition(); p != nil {
					gomega.Expect(position.Equal(head, p)).To(gomega.BeTrue())
				}
			})
		})
	})
}

// expectAscending asserts that the global positions of messages are strictly
// increasing.
func expectAscending(messages []message.Message) {
	for i := 1; i < len(messages); i++ {
		before, err := position.Before(
			messages[i-1].MetaData.GlobalPosition,
			messages[i].MetaData.GlobalPosition,
		)
		gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		gomega.Expect(before).To(gomega.BeTrue())
	}
}
