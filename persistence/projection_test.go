package persistence_test

import (
	"context"
	"errors"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/message"
	. "github.com/dogmatiq/ledger/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type documentsStub map[string][]byte

func (d documentsStub) LoadProjection(_ context.Context, p string) ([]byte, error) {
	return d[p], nil
}

func (d documentsStub) SaveProjection(_ context.Context, p string, doc []byte) error {
	if doc == nil {
		delete(d, p)
	} else {
		d[p] = doc
	}
	return nil
}

var _ = Describe("type Hooks", func() {
	var (
		ctx    context.Context
		hooks  *Hooks
		logger *logging.BufferedLogger
		docs   documentsStub
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = &logging.BufferedLogger{}
		docs = documentsStub{}

		hooks = &Hooks{
			Projections: []InlineProjection{
				InlineProjectionFunc{
					Name:  "<count>",
					Types: []string{"added"},
					Func: func(_ context.Context, doc []byte, messages []message.Message) ([]byte, error) {
						for range messages {
							doc = append(doc, '+')
						}
						return doc, nil
					},
				},
				InlineProjectionFunc{
					Name:  "<clear>",
					Types: []string{"cleared"},
					Func: func(context.Context, []byte, []message.Message) ([]byte, error) {
						return nil, nil
					},
				},
			},
			Logger: logger,
		}
	})

	Describe("func Project()", func() {
		It("passes only the handled messages to each projection", func() {
			err := hooks.Project(ctx, docs, []message.Message{
				{Type: "added"},
				{Type: "other"},
				{Type: "added"},
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(docs).To(Equal(documentsStub{
				"<count>": []byte("++"),
			}))
		})

		It("deletes the document when the projection returns nil", func() {
			docs["<clear>"] = []byte("<doc>")

			err := hooks.Project(ctx, docs, []message.Message{{Type: "cleared"}})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(docs).NotTo(HaveKey("<clear>"))
		})

		It("returns an error if a projection fails", func() {
			hooks.Projections = append(hooks.Projections, InlineProjectionFunc{
				Name:  "<failing>",
				Types: []string{"added"},
				Func: func(context.Context, []byte, []message.Message) ([]byte, error) {
					return nil, errors.New("<error>")
				},
			})

			err := hooks.Project(ctx, docs, []message.Message{{Type: "added"}})
			Expect(err).To(MatchError("inline projection '<failing>' failed: <error>"))
		})
	})

	Describe("func HasProjections()", func() {
		It("returns true only if a projection handles one of the messages", func() {
			Expect(hooks.HasProjections([]message.Message{{Type: "added"}})).To(BeTrue())
			Expect(hooks.HasProjections([]message.Message{{Type: "other"}})).To(BeFalse())
		})
	})

	Describe("func Committed()", func() {
		It("logs and swallows hook errors", func() {
			called := false
			hooks.AfterCommit = []AfterCommitHook{
				func(context.Context, []message.Message) error {
					return errors.New("<error>")
				},
				func(context.Context, []message.Message) error {
					called = true
					return nil
				},
			}

			hooks.Committed(ctx, []message.Message{
				{MetaData: message.MetaData{StreamName: "cart:1"}},
			})

			Expect(called).To(BeTrue())
			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "after-commit hook failed for 1 message(s) on stream 'cart:1': <error>",
				},
			))
		})

		It("logs and swallows hook panics", func() {
			called := false
			hooks.AfterCommit = []AfterCommitHook{
				func(context.Context, []message.Message) error {
					panic("<panic>")
				},
				func(context.Context, []message.Message) error {
					called = true
					return nil
				},
			}

			Expect(func() {
				hooks.Committed(ctx, []message.Message{
					{MetaData: message.MetaData{StreamName: "cart:1"}},
				})
			}).NotTo(Panic())

			Expect(called).To(BeTrue())
			Expect(logger.Messages()).To(ContainElement(
				logging.BufferedLogMessage{
					Message: "after-commit hook failed for 1 message(s) on stream 'cart:1': panic: <panic>",
				},
			))
		})
	})
})
