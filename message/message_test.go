package message_test

import (
	"time"

	. "github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/position"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func NewEvent()", func() {
	It("generates a unique message ID", func() {
		a := NewEvent("<type>", []byte("<data>"))
		b := NewEvent("<type>", []byte("<data>"))

		Expect(a.Kind).To(Equal(Event))
		Expect(a.MetaData.MessageID).NotTo(BeEmpty())
		Expect(a.MetaData.MessageID).NotTo(Equal(b.MetaData.MessageID))
		Expect(a.MetaData.IsRecorded()).To(BeFalse())
	})
})

var _ = Describe("func Record()", func() {
	It("populates the stream meta-data", func() {
		at := time.Now()
		m := Record(
			NewCommand("<type>", nil),
			NewStreamName("cart", "1"),
			3,
			position.Sequence(10),
			at,
		)

		Expect(m.Kind).To(Equal(Command))
		Expect(m.MetaData.StreamName).To(Equal(StreamName("cart:1")))
		Expect(m.MetaData.StreamPosition).To(BeEquivalentTo(3))
		Expect(m.MetaData.GlobalPosition).To(Equal(position.Sequence(10)))
		Expect(m.MetaData.RecordedAt).To(Equal(at))
		Expect(m.MetaData.IsRecorded()).To(BeTrue())
	})

	It("generates a message ID if one is not present", func() {
		m := Record(Message{Type: "<type>"}, "cart:1", 1, nil, time.Now())
		Expect(m.MetaData.Validate()).To(Succeed())
	})
})

var _ = Describe("func Types()", func() {
	It("returns the distinct types in order of appearance", func() {
		types := Types([]Message{
			{Type: "b"},
			{Type: "a"},
			{Type: "b"},
		})

		Expect(types).To(Equal([]string{"b", "a"}))
	})
})

var _ = Describe("func Filter()", func() {
	messages := []Message{
		{Type: "a"},
		{Type: "b"},
		{Type: "c"},
	}

	It("returns only messages of the given types", func() {
		Expect(Filter(messages, []string{"a", "c"})).To(Equal([]Message{
			{Type: "a"},
			{Type: "c"},
		}))
	})

	It("returns all messages if no types are given", func() {
		Expect(Filter(messages, nil)).To(HaveLen(3))
	})
})

var _ = Describe("type Kind", func() {
	It("round-trips through its string form", func() {
		for _, k := range []Kind{Event, Command} {
			p, err := ParseKind(k.String())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(p).To(Equal(k))

			p, err = ParseKind(k.Code())
			Expect(err).ShouldNot(HaveOccurred())
			Expect(p).To(Equal(k))
		}
	})

	It("returns an error for unknown kinds", func() {
		_, err := ParseKind("<unknown>")
		Expect(err).Should(HaveOccurred())
	})
})

var _ = Describe("type StreamName", func() {
	It("splits into type and ID", func() {
		n := NewStreamName("cart", "a:b")
		Expect(n.Type()).To(Equal("cart"))
		Expect(n.ID()).To(Equal("a:b"))
	})

	Describe("func ParseStreamName()", func() {
		It("accepts names in type:id form", func() {
			n, err := ParseStreamName("cart:1")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(n).To(Equal(StreamName("cart:1")))
		})

		DescribeTable(
			"it rejects malformed names",
			func(s string) {
				_, err := ParseStreamName(s)
				Expect(err).Should(HaveOccurred())
			},
			Entry("no separator", "cart"),
			Entry("empty type", ":1"),
			Entry("empty id", "cart:"),
		)
	})
})
