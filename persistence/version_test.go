package persistence_test

import (
	. "github.com/dogmatiq/ledger/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type ExpectedVersion", func() {
	DescribeTable(
		"func Matches()",
		func(v ExpectedVersion, current uint64, expect bool) {
			Expect(v.Matches(current)).To(Equal(expect))
		},
		Entry("any version, no stream", AnyVersion, uint64(0), true),
		Entry("any version, existing stream", AnyVersion, uint64(3), true),
		Entry("no stream, no stream", NoStream, uint64(0), true),
		Entry("no stream, existing stream", NoStream, uint64(1), false),
		Entry("stream exists, no stream", StreamExists, uint64(0), false),
		Entry("stream exists, existing stream", StreamExists, uint64(1), true),
		Entry("exact version, match", ExactVersion(2), uint64(2), true),
		Entry("exact version, mismatch", ExactVersion(2), uint64(3), false),
		Entry("exact version zero, no stream", ExactVersion(0), uint64(0), true),
	)

	Describe("func Check()", func() {
		It("returns a conflict error describing the versions", func() {
			err := ExactVersion(1).Check("cart:1", 2)
			Expect(err).To(Equal(&ConflictError{
				Stream:   "cart:1",
				Expected: ExactVersion(1),
				Actual:   2,
			}))
			Expect(err).To(MatchError(
				"expected version conflict on stream 'cart:1': expected version 1, actual version is 2",
			))
		})

		It("returns nil if the version matches", func() {
			Expect(NoStream.Check("cart:1", 0)).To(Succeed())
		})
	})
})
