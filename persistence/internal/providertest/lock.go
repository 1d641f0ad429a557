package providertest

import (
	"context"
	"time"

	"github.com/dogmatiq/ledger/persistence"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

// declareLockManagerTests declares a functional test-suite for a specific
// persistence.LockManager implementation.
func declareLockManagerTests(
	ctx *context.Context,
	in *In,
	out *Out,
) {
	ginkgo.Describe("type persistence.LockManager", func() {
		var (
			dataStore persistence.DataStore
			opts      persistence.LockOptions
		)

		ginkgo.BeforeEach(func() {
			var err error
			dataStore, err = out.Provider.Open(*ctx, "<store>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			opts = persistence.LockOptions{
				ProcessorID: "<processor>",
				InstanceID:  "<instance-a>",
				Exclusivity: persistence.Exclusive,
				Timeout:     time.Minute,
			}
		})

		ginkgo.AfterEach(func() {
			if dataStore != nil {
				dataStore.Close()
			}
		})

		as := func(instance string) persistence.LockOptions {
			o := opts
			o.InstanceID = instance
			return o
		}

		shared := func(instance string) persistence.LockOptions {
			o := as(instance)
			o.Exclusivity = persistence.Shared
			return o
		}

		acquire := func(o persistence.LockOptions) bool {
			ok, err := dataStore.TryAcquire(*ctx, o)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			return ok
		}

		ginkgo.Describe("func TryAcquire()", func() {
			ginkgo.When("the lock is exclusive", func() {
				ginkgo.It("acquires a lock that has never been held", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
				})

				ginkgo.It("does not acquire a lock held by another instance", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
					gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeFalse())
				})

				ginkgo.It("re-acquires a lock held by the same instance", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
				})

				ginkgo.It("acquires a lock after it is released", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())

					err := dataStore.Release(*ctx, opts)
					gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

					gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeTrue())
				})

				ginkgo.It("takes over a lock whose owner has not refreshed it within the timeout", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())

					in.Clock.Advance(opts.Timeout / 2)
					gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeFalse())

					in.Clock.Advance(opts.Timeout)
					gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeTrue())
					gomega.Expect(acquire(opts)).To(gomega.BeFalse())
				})

				ginkgo.It("uses separate locks for different keys", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())

					other := as("<instance-b>")
					other.Partition = "<partition>"
					gomega.Expect(acquire(other)).To(gomega.BeTrue())

					other = as("<instance-b>")
					other.Version = 2
					gomega.Expect(acquire(other)).To(gomega.BeTrue())

					other = as("<instance-b>")
					other.ProcessorID = "<other>"
					gomega.Expect(acquire(other)).To(gomega.BeTrue())
				})

				ginkgo.It("does not acquire a lock that is held as a projection by another instance", func() {
					p := opts
					p.ProjectionName = "<projection>"
					gomega.Expect(acquire(p)).To(gomega.BeTrue())

					p.InstanceID = "<instance-b>"
					gomega.Expect(acquire(p)).To(gomega.BeFalse())
				})
			})

			ginkgo.When("the lock is shared", func() {
				ginkgo.It("allows several instances to hold the lock", func() {
					gomega.Expect(acquire(shared("<instance-a>"))).To(gomega.BeTrue())
					gomega.Expect(acquire(shared("<instance-b>"))).To(gomega.BeTrue())
					gomega.Expect(acquire(shared("<instance-c>"))).To(gomega.BeTrue())
				})

				ginkgo.It("does not acquire a lock that is held exclusively", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
					gomega.Expect(acquire(shared("<instance-b>"))).To(gomega.BeFalse())
				})

				ginkgo.It("acquires a lock whose exclusive owner has timed out", func() {
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())

					in.Clock.Advance(2 * opts.Timeout)
					gomega.Expect(acquire(shared("<instance-b>"))).To(gomega.BeTrue())
				})

				ginkgo.It("does not prevent an exclusive lock from being acquired", func() {
					gomega.Expect(acquire(shared("<instance-b>"))).To(gomega.BeTrue())
					gomega.Expect(acquire(opts)).To(gomega.BeTrue())
				})
			})
		})

		ginkgo.Describe("func Refresh()", func() {
			ginkgo.It("keeps the lock alive beyond the original timeout", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				in.Clock.Advance(opts.Timeout * 3 / 4)

				ok, err := dataStore.Refresh(*ctx, opts)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeTrue())

				in.Clock.Advance(opts.Timeout * 3 / 4)
				gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeFalse())
			})

			ginkgo.It("returns false if the lock has been taken over", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				in.Clock.Advance(2 * opts.Timeout)
				gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeTrue())

				ok, err := dataStore.Refresh(*ctx, opts)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})

			ginkgo.It("returns false if the lock has never been held", func() {
				ok, err := dataStore.Refresh(*ctx, opts)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})

		ginkgo.Describe("func Release()", func() {
			ginkgo.It("does nothing if the lock has never been held", func() {
				err := dataStore.Release(*ctx, opts)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeTrue())
			})

			ginkgo.It("does not release a lock held by another instance", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				err := dataStore.Release(*ctx, as("<instance-b>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeFalse())
			})

			ginkgo.It("does nothing when releasing a shared lock", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				err := dataStore.Release(*ctx, shared("<instance-a>"))
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				gomega.Expect(acquire(as("<instance-b>"))).To(gomega.BeFalse())
			})

			ginkgo.It("releases a projection lock", func() {
				p := opts
				p.ProjectionName = "<projection>"
				gomega.Expect(acquire(p)).To(gomega.BeTrue())

				err := dataStore.Release(*ctx, p)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

				p.InstanceID = "<instance-b>"
				gomega.Expect(acquire(p)).To(gomega.BeTrue())
			})
		})

		ginkgo.Describe("func persistence.Acquire()", func() {
			ginkgo.It("returns an error under the fail policy when the lock is held", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				_, err := persistence.Acquire(*ctx, dataStore, as("<instance-b>"), persistence.FailPolicy)
				gomega.Expect(err).To(gomega.MatchError("unable to acquire exclusive lock on 'global:<processor>:0'"))
			})

			ginkgo.It("returns false under the skip policy when the lock is held", func() {
				gomega.Expect(acquire(opts)).To(gomega.BeTrue())

				ok, err := persistence.Acquire(*ctx, dataStore, as("<instance-b>"), persistence.SkipPolicy)
				gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
				gomega.Expect(ok).To(gomega.BeFalse())
			})
		})
	})
}
