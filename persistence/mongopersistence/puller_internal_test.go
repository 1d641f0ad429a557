package mongopersistence

import (
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// eventCursor is the resume token data of an event at cluster time
// {T: 0x65000001, I: 2}.
const eventCursor = "82650000010000000229295A1004"

func resumeToken(cursor string) bson.Raw {
	data, err := bson.Marshal(bson.M{"_data": cursor})
	Expect(err).ShouldNot(HaveOccurred())
	return data
}

func rawDocument(v any) bson.Raw {
	data, err := bson.Marshal(v)
	Expect(err).ShouldNot(HaveOccurred())
	return data
}

func messageDoc(pos int64, t string) messageDocument {
	return messageDocument{
		ID:         "<id-" + t + ">",
		Kind:       "E",
		Type:       t,
		Data:       []byte("<" + t + ">"),
		Position:   pos,
		RecordedAt: 1000 + pos,
	}
}

var _ = Describe("func clusterTime()", func() {
	It("decodes the cluster time at the start of the token", func() {
		ts, ok := clusterTime(eventCursor)
		Expect(ok).To(BeTrue())
		Expect(ts).To(Equal(primitive.Timestamp{T: 0x65000001, I: 2}))
	})

	It("returns false if the token does not begin with a timestamp", func() {
		_, ok := clusterTime("0100000000000000000000")
		Expect(ok).To(BeFalse())

		_, ok = clusterTime("82")
		Expect(ok).To(BeFalse())

		_, ok = clusterTime("<not hex>!!!!!!!!!!!!")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("func translate()", func() {
	stream := message.NewStreamName("cart", "1")

	It("returns every message in an inserted stream document", func() {
		messages, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "insert",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			FullDocument: &streamDocument{
				Name:     stream.String(),
				Version:  2,
				Appended: 2,
				Messages: []messageDocument{
					messageDoc(1, "ItemAdded"),
					messageDoc(2, "ItemRemoved"),
				},
			},
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(messages).To(HaveLen(2))

		Expect(messages[1].Type).To(Equal("ItemRemoved"))
		Expect(messages[1].MetaData.StreamName).To(Equal(stream))
		Expect(messages[1].MetaData.StreamPosition).To(BeEquivalentTo(2))
		Expect(messages[1].MetaData.GlobalPosition).To(Equal(
			position.ResumeToken{Cursor: eventCursor, Counter: 1},
		))
	})

	It("returns the appended messages from the update description", func() {
		messages, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "update",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			UpdateDescription: struct {
				UpdatedFields bson.Raw `bson:"updatedFields"`
			}{
				UpdatedFields: rawDocument(bson.D{
					{Key: "version", Value: int64(4)},
					{Key: "appended", Value: int64(2)},
					{Key: "messages.2", Value: messageDoc(3, "ItemAdded")},
					{Key: "messages.3", Value: messageDoc(4, "CheckedOut")},
					{Key: "projections.count", Value: []byte("4")},
				}),
			},
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(messages).To(HaveLen(2))
		Expect(messages[0].MetaData.StreamPosition).To(BeEquivalentTo(3))
		Expect(messages[1].Type).To(Equal("CheckedOut"))
	})

	It("takes the appended messages from a replacement messages array", func() {
		messages, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "update",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			UpdateDescription: struct {
				UpdatedFields bson.Raw `bson:"updatedFields"`
			}{
				UpdatedFields: rawDocument(bson.D{
					{Key: "version", Value: int64(2)},
					{Key: "appended", Value: int64(1)},
					{Key: "messages", Value: []messageDocument{
						messageDoc(1, "ItemAdded"),
						messageDoc(2, "ItemRemoved"),
					}},
				}),
			},
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].Type).To(Equal("ItemRemoved"))
		Expect(messages[0].MetaData.GlobalPosition).To(Equal(
			position.ResumeToken{Cursor: eventCursor, Counter: 0},
		))
	})

	It("falls back to the full document", func() {
		messages, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "update",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			UpdateDescription: struct {
				UpdatedFields bson.Raw `bson:"updatedFields"`
			}{
				UpdatedFields: rawDocument(bson.D{
					{Key: "version", Value: int64(2)},
					{Key: "appended", Value: int64(1)},
				}),
			},
			FullDocument: &streamDocument{
				Name:    stream.String(),
				Version: 3, // looked up after a later append
				Messages: []messageDocument{
					messageDoc(1, "ItemAdded"),
					messageDoc(2, "ItemRemoved"),
					messageDoc(3, "CheckedOut"),
				},
			},
		})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(messages).To(HaveLen(1))
		Expect(messages[0].Type).To(Equal("ItemRemoved"))
	})

	It("returns an error if the appended messages are missing", func() {
		_, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "update",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			UpdateDescription: struct {
				UpdatedFields bson.Raw `bson:"updatedFields"`
			}{
				UpdatedFields: rawDocument(bson.D{
					{Key: "version", Value: int64(2)},
					{Key: "appended", Value: int64(1)},
				}),
			},
		})
		Expect(err).To(MatchError("update event for stream 'cart:1' is missing the message at position 2"))
	})

	It("returns an error if the update is not an append", func() {
		_, err := translate(changeEvent{
			ID:            resumeToken(eventCursor),
			OperationType: "update",
			DocumentKey: struct {
				ID string `bson:"_id"`
			}{ID: stream.String()},
			UpdateDescription: struct {
				UpdatedFields bson.Raw `bson:"updatedFields"`
			}{
				UpdatedFields: rawDocument(bson.D{
					{Key: "projections.count", Value: []byte("1")},
				}),
			},
		})
		Expect(err).To(MatchError("update event for stream 'cart:1' does not describe an append"))
	})
})

var _ = Describe("func skip()", func() {
	ts := primitive.Timestamp{T: 0x65000001, I: 2}

	messages := []message.Message{
		{MetaData: message.MetaData{GlobalPosition: position.ResumeToken{Cursor: eventCursor, Counter: 0}}},
		{MetaData: message.MetaData{GlobalPosition: position.ResumeToken{Cursor: eventCursor, Counter: 1}}},
		{MetaData: message.MetaData{GlobalPosition: position.ResumeToken{Cursor: eventCursor, Counter: 2}}},
	}

	It("removes the messages at or before the position within the same event", func() {
		result := skip(messages, position.ResumeToken{Cursor: eventCursor, Counter: 0}, ts, ts)
		Expect(result).To(Equal(messages[1:]))
	})

	It("removes every message of earlier events at the same cluster time", func() {
		result := skip(messages, position.ResumeToken{Cursor: eventCursor + "FF"}, ts, ts)
		Expect(result).To(BeEmpty())
	})

	It("keeps every message of events ordered after the position at the same cluster time", func() {
		result := skip(messages, position.ResumeToken{Cursor: "8265000001000000020000", Counter: 5}, ts, ts)
		Expect(result).To(Equal(messages))
	})

	It("keeps every message of later events", func() {
		later := primitive.Timestamp{T: ts.T, I: ts.I + 1}
		result := skip(messages, position.ResumeToken{Cursor: eventCursor, Counter: 2}, ts, later)
		Expect(result).To(Equal(messages))
	})
})

var _ = Describe("func slice()", func() {
	DescribeTable(
		"it selects the messages within the read range",
		func(from, to uint64, skip, limit int64) {
			o := persistence.ReadOptions{From: from, To: to}
			Expect(slice(o)).To(Equal(bson.A{skip, limit}))
		},
		Entry("entire stream", uint64(0), uint64(0), int64(0), int64(2147483647)),
		Entry("from position", uint64(3), uint64(0), int64(2), int64(2147483647)),
		Entry("bounded range", uint64(2), uint64(4), int64(1), int64(3)),
		Entry("single message", uint64(4), uint64(4), int64(3), int64(1)),
		Entry("empty range", uint64(5), uint64(2), int64(4), int64(1)),
	)
})
