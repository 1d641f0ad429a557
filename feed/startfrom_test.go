package feed_test

import (
	"context"

	. "github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/position"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/types"
)

var _ = Describe("type StartFrom", func() {
	var stub *pullerStub

	BeforeEach(func() {
		stub = &pullerStub{
			HeadFunc: func(context.Context) (position.Token, error) {
				return position.Sequence(10), nil
			},
		}
	})

	Describe("func Resolve()", func() {
		DescribeTable(
			"it resolves the starting position of a processor without a checkpoint",
			func(s StartFrom, expect types.GomegaMatcher) {
				p, err := s.Resolve(context.Background(), stub, nil)
				Expect(err).ShouldNot(HaveOccurred())
				Expect(p).To(expect)
			},
			Entry("beginning", Beginning, BeNil()),
			Entry("end", End, Equal(position.Sequence(10))),
			Entry("after a position", After(position.Sequence(4)), Equal(position.Sequence(4))),
			Entry("after nil", After(nil), BeNil()),
		)

		DescribeTable(
			"it resumes after the checkpoint if there is one",
			func(s StartFrom) {
				p, err := s.Resolve(context.Background(), stub, position.Sequence(7))
				Expect(err).ShouldNot(HaveOccurred())
				Expect(p).To(Equal(position.Sequence(7)))
			},
			Entry("beginning", Beginning),
			Entry("end", End),
			Entry("after a position", After(position.Sequence(4))),
		)
	})

	Describe("func String()", func() {
		It("describes the starting point", func() {
			Expect(Beginning.String()).To(Equal("BEGINNING"))
			Expect(End.String()).To(Equal("END"))
			Expect(After(position.Sequence(4)).String()).To(Equal("AFTER(00000000000000000004)"))
		})
	})
})
