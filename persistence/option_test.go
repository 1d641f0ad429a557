package persistence_test

import (
	"context"

	"github.com/dogmatiq/ledger/message"
	. "github.com/dogmatiq/ledger/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func WithInlineProjection()", func() {
	projection := func(name string) InlineProjection {
		return InlineProjectionFunc{
			Name: name,
			Func: func(_ context.Context, doc []byte, _ []message.Message) ([]byte, error) {
				return doc, nil
			},
		}
	}

	It("registers the projection", func() {
		opts := NewStoreOptions([]StoreOption{
			WithInlineProjection(projection("<a>")),
			WithInlineProjection(projection("<b>")),
		})

		Expect(opts.Hooks.Projections).To(HaveLen(2))
	})

	It("panics if the projection name is empty", func() {
		Expect(func() {
			WithInlineProjection(projection(""))
		}).To(PanicWith("projection name must not be empty"))
	})

	It("panics if a projection with the same name is already registered", func() {
		Expect(func() {
			NewStoreOptions([]StoreOption{
				WithInlineProjection(projection("<a>")),
				WithInlineProjection(projection("<a>")),
			})
		}).To(PanicWith("can not register multiple inline projections named '<a>'"))
	})
})
