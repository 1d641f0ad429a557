package mongopersistence_test

import (
	"context"

	"github.com/dogmatiq/ledger/persistence/memorypersistence"
	. "github.com/dogmatiq/ledger/persistence/mongopersistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func NewPuller()", func() {
	It("returns an error if the data-store is not a MongoDB data-store", func() {
		ds, err := (&memorypersistence.Provider{}).Open(context.Background(), "<store>")
		Expect(err).ShouldNot(HaveOccurred())
		defer ds.Close()

		_, err = NewPuller(ds)
		Expect(err).To(MatchError(ContainSubstring("is not a MongoDB data-store")))
	})
})
