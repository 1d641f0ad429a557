package processor_test

import (
	"context"

	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	. "github.com/dogmatiq/ledger/processor"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type Processor", func() {
	noop := func(context.Context, message.Message) error { return nil }

	Describe("func NewReactor()", func() {
		It("applies the options", func() {
			p := NewReactor(
				"<id>",
				noop,
				Handling("<type-a>", "<type-b>"),
				InPartition("<partition>"),
				AtVersion(2),
				StartingFrom(feed.End),
				WithSharedLock(),
			)

			Expect(p.Kind).To(Equal(Reactor))
			Expect(p.CanHandle).To(Equal([]string{"<type-a>", "<type-b>"}))
			Expect(p.Partition).To(Equal("<partition>"))
			Expect(p.Version).To(Equal(2))
			Expect(p.StartFrom).To(Equal(feed.End))
			Expect(p.Exclusivity).To(Equal(persistence.Shared))
			Expect(p.Validate()).To(Succeed())
		})
	})

	Describe("func Validate()", func() {
		It("returns an error if the ID is empty", func() {
			p := NewReactor("", noop)
			Expect(p.Validate()).To(MatchError("processor ID must not be empty"))
		})

		It("returns an error if a reactor has no handler", func() {
			p := NewReactor("<id>", nil)
			Expect(p.Validate()).To(MatchError("reactor '<id>' has no message handler"))
		})

		It("returns an error if a projector has no handler", func() {
			p := NewProjector("<id>", "<projection>", nil)
			Expect(p.Validate()).To(MatchError("projector '<id>' has no projection handler"))
		})
	})

	Describe("func Handles()", func() {
		It("handles all messages if CanHandle is empty", func() {
			p := NewReactor("<id>", noop)
			Expect(p.Handles(message.NewEvent("<any>", nil))).To(BeTrue())
		})

		It("only handles the listed types", func() {
			p := NewReactor("<id>", noop, Handling("<type-a>"))
			Expect(p.Handles(message.NewEvent("<type-a>", nil))).To(BeTrue())
			Expect(p.Handles(message.NewEvent("<type-b>", nil))).To(BeFalse())
		})
	})

	Describe("func LockOptions()", func() {
		It("uses the projection record for projectors", func() {
			p := NewProjector(
				"<id>",
				"<projection>",
				func(context.Context, []message.Message) error { return nil },
			)

			o := p.LockOptions("<instance>", 0)
			Expect(o.IsProjection()).To(BeTrue())
			Expect(o.Key()).To(Equal("global:<projection>:0"))
			Expect(o.Timeout).To(Equal(persistence.DefaultLockTimeout))
		})
	})

	Describe("func CheckpointKey()", func() {
		It("applies the default partition", func() {
			p := NewReactor("<id>", noop, AtVersion(3))
			Expect(p.CheckpointKey()).To(Equal(persistence.CheckpointKey{
				ProcessorID: "<id>",
				Partition:   persistence.DefaultPartition,
				Version:     3,
			}))
		})
	})
})
