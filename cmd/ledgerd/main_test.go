package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/cmd/ledgerd/internal/config"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

var _ = Describe("func openBackend()", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		cfg    config.Config
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		dir, err := os.MkdirTemp("", "ledgerd-")
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		cfg, err = config.Load("")
		Expect(err).ShouldNot(HaveOccurred())

		cfg.Store.Backend = config.BoltDB
		cfg.Store.Path = filepath.Join(dir, "ledger.boltdb")
	})

	It("opens a data-store that feeds the puller", func() {
		b, err := openBackend(ctx, cfg, logging.DiscardLogger{})
		Expect(err).ShouldNot(HaveOccurred())
		defer b.Close()

		_, err = b.Store.Append(
			ctx,
			message.NewStreamName("account", "A1"),
			[]message.Message{
				message.NewEvent("account.opened", []byte(`{}`)),
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		pullCtx, stop := context.WithCancel(ctx)
		defer stop()

		batches := make(chan feed.Batch)
		go b.Puller.Pull(pullCtx, nil, batches) // nolint:errcheck

		var batch feed.Batch
		Eventually(batches).Should(Receive(&batch))
		Expect(batch.Messages).To(HaveLen(1))
		Expect(batch.Messages[0].Type).To(Equal("account.opened"))
	})

	It("returns an error for an unsupported backend", func() {
		cfg.Store.Backend = "cassandra"

		_, err := openBackend(ctx, cfg, logging.DiscardLogger{})
		Expect(err).To(MatchError("unsupported backend: cassandra"))
	})
})

var _ = DescribeTable(
	"func lockPolicy()",
	func(policy string, attempts int, expect persistence.PolicyKind) {
		p := lockPolicy(config.ConsumerConfig{
			LockPolicy:   policy,
			LockAttempts: attempts,
		})
		Expect(p.Kind).To(Equal(expect))
	},
	Entry("fail", config.PolicyFail, 0, persistence.PolicyFail),
	Entry("skip", config.PolicySkip, 0, persistence.PolicySkip),
	Entry("retry", config.PolicyRetry, 3, persistence.PolicyRetry),
)

var _ = Describe("func newLogger()", func() {
	It("enables debug logging when configured", func() {
		zl, err := newLogger(config.LogConfig{Debug: true})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(zl.Core().Enabled(zap.DebugLevel)).To(BeTrue())
	})

	It("logs at the info level by default", func() {
		zl, err := newLogger(config.LogConfig{})
		Expect(err).ShouldNot(HaveOccurred())
		Expect(zl.Core().Enabled(zap.DebugLevel)).To(BeFalse())
		Expect(zl.Core().Enabled(zap.InfoLevel)).To(BeTrue())
	})
})
