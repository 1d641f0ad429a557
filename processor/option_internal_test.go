package processor

import (
	"time"

	"github.com/dogmatiq/ledger/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func resolveOptions()", func() {
	It("uses the defaults if no options are given", func() {
		o := resolveOptions(nil)

		Expect(o.InstanceID).NotTo(BeEmpty())
		Expect(o.LockTimeout).To(Equal(persistence.DefaultLockTimeout))
		Expect(o.LockPolicy).To(Equal(persistence.SkipPolicy))
		Expect(o.HandlerTimeout).To(BeZero())
		Expect(o.Concurrency).To(Equal(DefaultConcurrency))
	})

	It("treats zero values as the defaults", func() {
		o := resolveOptions([]ConsumerOption{
			WithLockTimeout(0),
			WithConcurrency(0),
			WithLogger(nil),
		})

		Expect(o.LockTimeout).To(Equal(persistence.DefaultLockTimeout))
		Expect(o.Concurrency).To(Equal(DefaultConcurrency))
		Expect(o.Logger).NotTo(BeNil())
	})

	It("disables the handler timeout if it is zero", func() {
		o := resolveOptions([]ConsumerOption{
			WithHandlerTimeout(time.Second),
			WithHandlerTimeout(0),
		})

		Expect(o.HandlerTimeout).To(BeZero())
	})

	It("applies the options", func() {
		o := resolveOptions([]ConsumerOption{
			WithInstanceID("<instance>"),
			WithLockTimeout(5 * time.Second),
			WithLockPolicy(persistence.FailPolicy),
			WithHandlerTimeout(time.Second),
			WithConcurrency(3),
		})

		Expect(o.InstanceID).To(Equal("<instance>"))
		Expect(o.LockTimeout).To(Equal(5 * time.Second))
		Expect(o.LockPolicy).To(Equal(persistence.FailPolicy))
		Expect(o.HandlerTimeout).To(Equal(time.Second))
		Expect(o.Concurrency).To(Equal(3))
	})

	DescribeTable(
		"it panics if a value is negative",
		func(fn func(), expect string) {
			Expect(fn).To(PanicWith(expect))
		},
		Entry("lock timeout", func() { WithLockTimeout(-1) }, "duration must not be negative"),
		Entry("handler timeout", func() { WithHandlerTimeout(-1) }, "duration must not be negative"),
		Entry("concurrency", func() { WithConcurrency(-1) }, "concurrency must not be negative"),
	)
})
