package mongopersistence_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/dogmatiq/ledger/persistence/mongopersistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

var _ = Describe("func IsUnavailable()", func() {
	DescribeTable(
		"it classifies errors",
		func(err error, expect bool) {
			Expect(IsUnavailable(err)).To(Equal(expect))
		},
		Entry("nil", nil, false),
		Entry("context canceled", context.Canceled, false),
		Entry("context deadline exceeded", fmt.Errorf("<op>: %w", context.DeadlineExceeded), false),
		Entry("client disconnected", mongo.ErrClientDisconnected, true),
		Entry("server selection", topology.ServerSelectionError{Wrapped: errors.New("<cause>")}, true),
		Entry("network error", mongo.CommandError{Labels: []string{"NetworkError"}}, true),
		Entry("primary stepped down", mongo.CommandError{Code: 189}, true),
		Entry("not writable primary", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 10107}}}, true),
		Entry("duplicate key", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}, false),
		Entry("other error", errors.New("<error>"), false),
	)
})
