package sqlpersistence_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	. "github.com/dogmatiq/ledger/persistence/sqlpersistence"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func IsUnavailable()", func() {
	DescribeTable(
		"it classifies errors",
		func(err error, expect bool) {
			Expect(IsUnavailable(err)).To(Equal(expect))
		},
		Entry("nil", nil, false),
		Entry("context canceled", context.Canceled, false),
		Entry("deadline exceeded", fmt.Errorf("<op>: %w", context.DeadlineExceeded), false),
		Entry("bad connection", fmt.Errorf("<op>: %w", driver.ErrBadConn), true),
		Entry("pgx connection exception", &pgconn.PgError{Code: "08006"}, true),
		Entry("pgx admin shutdown", &pgconn.PgError{Code: "57P01"}, true),
		Entry("pgx unique violation", &pgconn.PgError{Code: "23505"}, false),
		Entry("pq connection failure", &pq.Error{Code: "08001"}, true),
		Entry("pq syntax error", &pq.Error{Code: "42601"}, false),
		Entry("other error", errors.New("<error>"), false),
	)
})
