package boltpersistence_test

import (
	"context"
	"time"

	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/internal/testing/boltdbtest"
	"github.com/dogmatiq/ledger/internal/testing/pullertest"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	. "github.com/dogmatiq/ledger/persistence/boltpersistence"
	"github.com/dogmatiq/ledger/persistence/internal/providertest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Provider", func() {
	var close func()

	providertest.Declare(
		func(ctx context.Context, in providertest.In) providertest.Out {
			db, c := boltdbtest.Open()
			close = c

			return providertest.Out{
				Provider: &Provider{
					DB:      db,
					Options: in.Options,
				},
				CheckpointRule: persistence.RelationalCheckpointRule,
			}
		},
		func() {
			close()
		},
	)

	Describe("func Open()", func() {
		It("isolates data-stores with different names", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, close := boltdbtest.Open()
			defer close()

			provider := &Provider{DB: db}

			a, err := provider.Open(ctx, "<store-a>")
			Expect(err).ShouldNot(HaveOccurred())
			defer a.Close()

			b, err := provider.Open(ctx, "<store-b>")
			Expect(err).ShouldNot(HaveOccurred())
			defer b.Close()

			stream := message.NewStreamName("cart", "1")

			_, err = a.Append(ctx, stream, providertest.NewMessages(providertest.ItemAdded, 2))
			Expect(err).ShouldNot(HaveOccurred())

			res, err := b.Read(ctx, stream)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(res.StreamExists).To(BeFalse())

			head, err := b.(persistence.GlobalReader).Head(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(head).To(BeNil())
		})

		It("does not close a database it did not open", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, close := boltdbtest.Open()
			defer close()

			ds, err := (&Provider{DB: db}).Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ds.Close()).To(Succeed())

			tx, err := db.Begin(false)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(tx.Rollback()).To(Succeed())
		})
	})

	Describe("func Close()", func() {
		It("returns an error if the data-store is already closed", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, close := boltdbtest.Open()
			defer close()

			ds, err := (&Provider{DB: db}).Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			Expect(ds.Close()).To(Succeed())
			Expect(ds.Close()).To(Equal(persistence.ErrDataStoreClosed))

			_, err = ds.LoadCheckpoint(ctx, persistence.CheckpointKey{ProcessorID: "<processor>"})
			Expect(err).To(Equal(persistence.ErrDataStoreClosed))
		})
	})
})

var _ = Describe("type FileProvider", func() {
	var remove func()

	providertest.Declare(
		func(ctx context.Context, in providertest.In) providertest.Out {
			var path string
			path, remove = boltdbtest.TempFile()

			return providertest.Out{
				Provider: &FileProvider{
					Path:    path,
					Options: in.Options,
				},
				CheckpointRule: persistence.RelationalCheckpointRule,
			}
		},
		func() {
			remove()
		},
	)

	Describe("func Open()", func() {
		It("returns an error if the DB can not be opened", func() {
			db, close := boltdbtest.Open()
			defer close()

			provider := &FileProvider{
				Path: db.Path(), // use the same file as the (open) DB.
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()

			ds, err := provider.Open(ctx, "<store>")
			if ds != nil {
				ds.Close()
			}
			Expect(err).To(Equal(context.DeadlineExceeded))
		})

		It("closes the DB when the last data-store is closed", func() {
			path, remove := boltdbtest.TempFile()
			defer remove()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			provider := &FileProvider{Path: path}

			a, err := provider.Open(ctx, "<store-a>")
			Expect(err).ShouldNot(HaveOccurred())

			b, err := provider.Open(ctx, "<store-b>")
			Expect(err).ShouldNot(HaveOccurred())

			Expect(a.Close()).To(Succeed())

			_, err = b.(persistence.GlobalReader).Head(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(b.Close()).To(Succeed())

			// The file lock has been released, so a different provider can
			// open it immediately.
			other := &FileProvider{Path: path}
			c, err := other.Open(ctx, "<store-c>")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(c.Close()).To(Succeed())
		})
	})
})

var _ = Describe("type Poller (BoltDB source)", func() {
	var (
		close     func()
		dataStore persistence.DataStore
	)

	pullertest.Declare(
		func(ctx context.Context) pullertest.Out {
			db, c := boltdbtest.Open()
			close = c

			poller := &feed.Poller{}

			provider := &Provider{
				DB: db,
				Options: []persistence.StoreOption{
					persistence.WithAfterCommitHook(poller.Notify),
				},
			}

			var err error
			dataStore, err = provider.Open(ctx, "<store>")
			Expect(err).ShouldNot(HaveOccurred())

			poller.Source = dataStore.(persistence.GlobalReader)

			return pullertest.Out{
				Puller: poller,
				Store:  dataStore,
			}
		},
		func() {
			dataStore.Close()
			close()
		},
	)
})
