package providertest

import (
	"context"

	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// declareCheckpointStoreTests declares a functional test-suite for a
// specific persistence.CheckpointStore implementation.
func declareCheckpointStoreTests(
	ctx *context.Context,
	in *In,
	out *Out,
) {
	ginkgo.Describe("type persistence.CheckpointStore", func() {
		var (
			dataStore persistence.DataStore
			key       persistence.CheckpointKey
			pos       func(uint64) position.Token
		)

		ginkgo.BeforeEach(func() {
			var err error
			dataStore, err = out.Provider.Open(*ctx, "<store>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			key = persistence.CheckpointKey{
				ProcessorID: "<processor>",
			}

			pos = out.Position
		})

		ginkgo.AfterEach(func() {
			if dataStore != nil {
				dataStore.Close()
			}
		})

		// store stores a checkpoint and asserts that it succeeded.
		store := func(lastStored, next position.Token) {
			res, err := dataStore.StoreCheckpoint(*ctx, key, lastStored, next)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(res.Reason).To(gomega.Equal(persistence.Stored))
		}

		ginkgo.Describe("func LoadCheckpoint()", func() {
			ginkgo.It("returns nil if there is no checkpoint", func() {
				cp, err := dataStore.LoadCheckpoint(*ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.BeNil())
			})

			ginkgo.It("returns the stored checkpoint", func() {
				store(nil, pos(3))

				cp, err := dataStore.LoadCheckpoint(*ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.Equal(pos(3)))
			})

			ginkgo.It("treats an empty partition as the default partition", func() {
				store(nil, pos(3))

				cp, err := dataStore.LoadCheckpoint(
					*ctx,
					persistence.CheckpointKey{
						ProcessorID: key.ProcessorID,
						Partition:   persistence.DefaultPartition,
					},
				)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.Equal(pos(3)))
			})

			ginkgo.It("keeps checkpoints for different keys separate", func() {
				store(nil, pos(3))

				for _, k := range []persistence.CheckpointKey{
					{ProcessorID: "<other>"},
					{ProcessorID: key.ProcessorID, Partition: "<partition>"},
					{ProcessorID: key.ProcessorID, Version: 2},
				} {
					cp, err := dataStore.LoadCheckpoint(*ctx, k)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(cp).To(gomega.BeNil(), k.String())
				}
			})
		})

		ginkgo.Describe("func StoreCheckpoint()", func() {
			ginkgo.It("stores the first checkpoint", func() {
				res, err := dataStore.StoreCheckpoint(*ctx, key, nil, pos(1))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res).To(gomega.Equal(persistence.StoreResult{
					Reason:     persistence.Stored,
					Checkpoint: pos(1),
				}))
			})

			ginkgo.It("advances the checkpoint", func() {
				store(nil, pos(1))
				store(pos(1), pos(5))
				store(pos(5), pos(6))

				cp, err := dataStore.LoadCheckpoint(*ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.Equal(pos(6)))
			})

			ginkgo.DescribeTable(
				"it ignores a checkpoint that is not after the stored checkpoint",
				func(next uint64) {
					store(nil, pos(5))

					res, err := dataStore.StoreCheckpoint(*ctx, key, pos(5), pos(next))
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(res.Reason).To(gomega.Equal(persistence.Ignored))
					gomega.Expect(res.Succeeded()).To(gomega.BeFalse())
					gomega.Expect(res.IsConflict()).To(gomega.BeFalse())

					cp, err := dataStore.LoadCheckpoint(*ctx, key)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
					gomega.Expect(cp).To(gomega.Equal(pos(5)))
				},
				ginkgo.Entry("equal", uint64(5)),
				ginkgo.Entry("before", uint64(2)),
			)

			ginkgo.It("reports a conflict when the stored checkpoint is behind the expected checkpoint", func() {
				store(nil, pos(2))

				res, err := dataStore.StoreCheckpoint(*ctx, key, pos(4), pos(6))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.Reason).To(gomega.Equal(persistence.Mismatch))
				gomega.Expect(res.IsConflict()).To(gomega.BeTrue())
			})

			ginkgo.It("reports a conflict when there is no stored checkpoint but one was expected", func() {
				res, err := dataStore.StoreCheckpoint(*ctx, key, pos(4), pos(6))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.Reason).To(gomega.Equal(persistence.Mismatch))
			})

			ginkgo.It("reports a conflict when the stored checkpoint is ahead of the expected checkpoint", func() {
				store(nil, pos(8))

				res, err := dataStore.StoreCheckpoint(*ctx, key, pos(4), pos(6))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(res.IsConflict()).To(gomega.BeTrue())

				if out.CheckpointRule.DistinguishAhead {
					gomega.Expect(res.Reason).To(gomega.Equal(persistence.CurrentAhead))
				} else {
					gomega.Expect(res.Reason).To(gomega.Equal(persistence.Mismatch))
				}

				cp, err := dataStore.LoadCheckpoint(*ctx, key)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(cp).To(gomega.Equal(pos(8)))
			})

			ginkgo.It("allows exactly one of several writers with the same expectation to succeed", func() {
				store(nil, pos(1))

				results := make(chan persistence.Reason, 4)

				for i := uint64(0); i < 4; i++ {
					next := pos(10 + i)

					go func() {
						defer ginkgo.GinkgoRecover()

						res, err := dataStore.StoreCheckpoint(*ctx, key, pos(1), next)
						gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
						results <- res.Reason
					}()
				}

				stored := 0
				for i := 0; i < 4; i++ {
					if <-results == persistence.Stored {
						stored++
					}
				}

				gomega.Expect(stored).To(gomega.Equal(1))
			})

			ginkgo.It("returns an error if the new checkpoint is nil", func() {
				_, err := dataStore.StoreCheckpoint(*ctx, key, nil, nil)
				gomega.Expect(err).Should(gomega.HaveOccurred())
			})
		})
	})
}
