package memorypersistence_test

import (
	"context"

	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	. "github.com/dogmatiq/ledger/persistence/memorypersistence"
	"github.com/dogmatiq/ledger/persistence/internal/providertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Provider", func() {
	providertest.Declare(
		func(ctx context.Context, in providertest.In) providertest.Out {
			return providertest.Out{
				Provider: &Provider{
					Options: in.Options,
				},
				CheckpointRule: persistence.RelationalCheckpointRule,
			}
		},
		nil,
	)

	Describe("func Open()", func() {
		It("shares data between data-stores with the same name", func() {
			ctx := context.Background()
			provider := &Provider{}

			a, err := provider.Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())
			defer a.Close()

			b, err := provider.Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())
			defer b.Close()

			stream := message.NewStreamName("cart", "1")

			_, err = a.Append(ctx, stream, providertest.NewMessages(providertest.ItemAdded, 1))
			Expect(err).ShouldNot(HaveOccurred())

			res, err := b.Read(ctx, stream)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.CurrentVersion).To(BeEquivalentTo(1))
		})

		It("isolates data-stores with different names", func() {
			ctx := context.Background()
			provider := &Provider{}

			a, err := provider.Open(ctx, "<store-a>")
			Expect(err).ShouldNot(HaveOccurred())
			defer a.Close()

			b, err := provider.Open(ctx, "<store-b>")
			Expect(err).ShouldNot(HaveOccurred())
			defer b.Close()

			stream := message.NewStreamName("cart", "1")

			_, err = a.Append(ctx, stream, providertest.NewMessages(providertest.ItemAdded, 1))
			Expect(err).ShouldNot(HaveOccurred())

			res, err := b.Read(ctx, stream)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.StreamExists).To(BeFalse())
		})
	})

	Describe("func Close()", func() {
		It("returns an error if the data-store is already closed", func() {
			ds, err := (&Provider{}).Open(context.Background(), "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ds.Close()).To(Succeed())
			Expect(ds.Close()).To(Equal(persistence.ErrDataStoreClosed))
		})

		It("prevents further appends", func() {
			ds, err := (&Provider{}).Open(context.Background(), "<store>")
			Expect(err).ShouldNot(HaveOccurred())
			ds.Close()

			_, err = ds.Append(
				context.Background(),
				message.NewStreamName("cart", "1"),
				providertest.NewMessages(providertest.ItemAdded, 1),
			)
			Expect(err).To(Equal(persistence.ErrDataStoreClosed))
		})
	})
})
