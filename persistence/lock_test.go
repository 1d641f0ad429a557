package persistence_test

import (
	"context"
	"time"

	. "github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/linger/backoff"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type lockManagerStub struct {
	TryAcquireFunc func(context.Context, LockOptions) (bool, error)
	attempts       int
}

func (m *lockManagerStub) TryAcquire(ctx context.Context, o LockOptions) (bool, error) {
	m.attempts++
	return m.TryAcquireFunc(ctx, o)
}

func (m *lockManagerStub) Refresh(context.Context, LockOptions) (bool, error) {
	return true, nil
}

func (m *lockManagerStub) Release(context.Context, LockOptions) error {
	return nil
}

var _ = Describe("func CanAcquire()", func() {
	now := time.Now()

	opts := LockOptions{
		ProcessorID: "<processor>",
		InstanceID:  "<instance-b>",
		Timeout:     10 * time.Second,
	}

	DescribeTable(
		"it applies the ownership rules",
		func(rec *LockRecord, expect bool) {
			Expect(CanAcquire(rec, opts, now)).To(Equal(expect))
		},
		Entry("no record", nil, true),
		Entry("stopped", &LockRecord{Status: StatusStopped, OwnerInstanceID: "<instance-a>", LastUpdated: now}, true),
		Entry("active projection", &LockRecord{Status: StatusActive, LastUpdated: now}, true),
		Entry("inactive projection", &LockRecord{Status: StatusInactive, LastUpdated: now}, false),
		Entry("running elsewhere", &LockRecord{Status: StatusRunning, OwnerInstanceID: "<instance-a>", LastUpdated: now}, false),
		Entry("async processing elsewhere", &LockRecord{Status: StatusAsyncProcessing, OwnerInstanceID: "<instance-a>", LastUpdated: now}, false),
		Entry("running here", &LockRecord{Status: StatusRunning, OwnerInstanceID: "<instance-b>", LastUpdated: now}, true),
		Entry("running with unknown owner", &LockRecord{Status: StatusRunning, OwnerInstanceID: UnknownInstanceID, LastUpdated: now}, true),
		Entry("running but timed out", &LockRecord{Status: StatusRunning, OwnerInstanceID: "<instance-a>", LastUpdated: now.Add(-11 * time.Second)}, true),
		Entry("running and exactly at timeout", &LockRecord{Status: StatusRunning, OwnerInstanceID: "<instance-a>", LastUpdated: now.Add(-10 * time.Second)}, false),
	)
})

var _ = Describe("type LockOptions", func() {
	It("keys processor locks by processor ID", func() {
		o := LockOptions{ProcessorID: "<processor>", Version: 1}
		Expect(o.Key()).To(Equal("global:<processor>:1"))
		Expect(o.AcquiredStatus()).To(Equal(StatusRunning))
		Expect(o.ReleasedStatus()).To(Equal(StatusStopped))
	})

	It("keys projection locks by projection name", func() {
		o := LockOptions{ProcessorID: "<processor>", ProjectionName: "<projection>", Partition: "<partition>"}
		Expect(o.Key()).To(Equal("<partition>:<projection>:0"))
		Expect(o.AcquiredStatus()).To(Equal(StatusAsyncProcessing))
		Expect(o.ReleasedStatus()).To(Equal(StatusActive))
	})

	It("derives distinct hashes from distinct keys", func() {
		a := LockOptions{ProcessorID: "a"}
		b := LockOptions{ProcessorID: "b"}
		c := LockOptions{ProcessorID: "a", Version: 1}

		Expect(a.Hash()).To(Equal(LockOptions{ProcessorID: "a"}.Hash()))
		Expect(a.Hash()).NotTo(Equal(b.Hash()))
		Expect(a.Hash()).NotTo(Equal(c.Hash()))
	})
})

var _ = Describe("func Acquire()", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		manager *lockManagerStub
		opts    LockOptions
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 1*time.Second)

		manager = &lockManagerStub{
			TryAcquireFunc: func(context.Context, LockOptions) (bool, error) {
				return false, nil
			},
		}

		opts = LockOptions{
			ProcessorID: "<processor>",
			InstanceID:  "<instance>",
		}
	})

	AfterEach(func() {
		cancel()
	})

	It("returns true without consulting the policy if the lock is acquired", func() {
		manager.TryAcquireFunc = func(context.Context, LockOptions) (bool, error) {
			return true, nil
		}

		ok, err := Acquire(ctx, manager, opts, FailPolicy)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	When("the policy is to fail", func() {
		It("returns an error", func() {
			_, err := Acquire(ctx, manager, opts, FailPolicy)
			Expect(err).To(MatchError("unable to acquire exclusive lock on 'global:<processor>:0'"))
		})
	})

	When("the policy is to skip", func() {
		It("returns false", func() {
			ok, err := Acquire(ctx, manager, opts, SkipPolicy)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(manager.attempts).To(Equal(1))
		})
	})

	When("the policy is to retry", func() {
		It("retries until the lock is acquired", func() {
			manager.TryAcquireFunc = func(context.Context, LockOptions) (bool, error) {
				return manager.attempts == 3, nil
			}

			ok, err := Acquire(ctx, manager, opts, RetryPolicy(5, backoff.Constant(0)))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(manager.attempts).To(Equal(3))
		})

		It("returns false when the attempts are exhausted", func() {
			ok, err := Acquire(ctx, manager, opts, RetryPolicy(4, backoff.Constant(0)))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(manager.attempts).To(Equal(4))
		})

		It("returns an error if the context is canceled", func() {
			cancel()

			_, err := Acquire(ctx, manager, opts, RetryPolicy(0, backoff.Constant(10*time.Millisecond)))
			Expect(err).To(Equal(context.Canceled))
		})
	})
})

var _ = Describe("func RetryPolicy()", func() {
	It("panics if the number of attempts is negative", func() {
		Expect(func() {
			RetryPolicy(-1, nil)
		}).To(PanicWith("attempts must not be negative"))
	})
})
