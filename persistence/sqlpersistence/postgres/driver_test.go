package postgres_test

import (
	"context"
	"database/sql"
	"time"

	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/persistence/internal/providertest"
	"github.com/dogmatiq/ledger/persistence/sqlpersistence"
	. "github.com/dogmatiq/ledger/persistence/sqlpersistence/postgres"
	"github.com/dogmatiq/sqltest"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("type driver", func() {
	for _, pair := range sqltest.CompatiblePairs(sqltest.PostgreSQL) {
		Context("standard driver behavior", func() {
			var (
				database *sqltest.Database
				db       *sql.DB
			)

			providertest.Declare(
				func(ctx context.Context, in providertest.In) providertest.Out {
					var err error
					database, err = sqltest.NewDatabase(ctx, pair.Driver, pair.Product)
					Expect(err).ShouldNot(HaveOccurred())

					db, err = database.Open()
					Expect(err).ShouldNot(HaveOccurred())

					err = Driver.CreateSchema(ctx, db)
					Expect(err).ShouldNot(HaveOccurred())

					return providertest.Out{
						Provider: &sqlpersistence.Provider{
							DB:      db,
							Driver:  Driver,
							Options: in.Options,
						},
						CheckpointRule: persistence.RelationalCheckpointRule,
						TestTimeout:    10 * time.Second,
					}
				},
				func() {
					ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()

					err := Driver.DropSchema(ctx, db)
					Expect(err).ShouldNot(HaveOccurred())

					err = database.Close()
					Expect(err).ShouldNot(HaveOccurred())
				},
			)

			It("reports context errors", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				database, err := sqltest.NewDatabase(ctx, pair.Driver, pair.Product)
				Expect(err).ShouldNot(HaveOccurred())
				defer database.Close()

				db, err := database.Open()
				Expect(err).ShouldNot(HaveOccurred())

				canceled, cancelQuery := context.WithCancel(ctx)
				cancelQuery()

				_, _, err = Driver.SelectCheckpoint(
					canceled,
					db,
					"<store>",
					persistence.CheckpointKey{ProcessorID: "<processor>"}.WithDefaults(),
				)
				Expect(err).To(Equal(context.Canceled))
			})
		})
	}
})
