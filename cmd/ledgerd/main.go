// Command ledgerd runs a consumer that logs each message recorded in a
// ledger data-store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dogmatiq/ledger/cmd/ledgerd/internal/config"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/internal/x/loggingx"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/processor"
	"go.uber.org/zap"
)

// shutdownTimeout bounds the time spent stopping the consumer and flushing
// traces once the context is canceled.
const shutdownTimeout = 10 * time.Second

// newContext returns a cancelable context that is canceled when the process
// receives a SIGTERM or SIGINT.
func newContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
		case <-sig:
			cancel()
		}
	}()

	return ctx, cancel
}

func main() {
	path := flag.String("config", "", "path to config file")
	flag.Parse()

	ctx, cancel := newContext()
	defer cancel()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %s\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	zl, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer zl.Sync() // nolint:errcheck

	logger := loggingx.Zap{Target: zl}

	shutdown, err := tracing.Init(
		ctx,
		tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			UseStdout:   cfg.Tracing.Stdout,
		},
	)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdown(ctx) // nolint:errcheck
	}()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	zl.Info(
		"data-store opened",
		zap.String("store", cfg.Store.Name),
		zap.String("backend", cfg.Store.Backend),
	)

	puller := &feed.Resubscriber{
		Puller:        b.Puller,
		IsUnavailable: b.IsUnavailable,
		MaxAttempts:   cfg.Feed.MaxAttempts,
		Logger:        logger,
	}

	c := processor.NewConsumer(
		puller,
		b.Store,
		b.Store,
		processor.WithInstanceID(cfg.Consumer.InstanceID),
		processor.WithLockTimeout(cfg.Consumer.LockTimeout),
		processor.WithLockPolicy(lockPolicy(cfg.Consumer)),
		processor.WithHandlerTimeout(cfg.Consumer.HandlerTimeout),
		processor.WithConcurrency(cfg.Consumer.Concurrency),
		processor.WithLogger(logger),
		processor.WithProcessor(newLogReactor(cfg.Consumer, zl)),
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		c.Close(ctx) // nolint:errcheck
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}

	return ctx.Err()
}

// newLogger returns the zap logger described by cfg.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zc.Build()
}

// lockPolicy returns the lock policy described by cfg.
func lockPolicy(cfg config.ConsumerConfig) persistence.LockPolicy {
	switch cfg.LockPolicy {
	case config.PolicySkip:
		return persistence.SkipPolicy
	case config.PolicyRetry:
		return persistence.RetryPolicy(cfg.LockAttempts, nil)
	default:
		return persistence.FailPolicy
	}
}

// newLogReactor returns a reactor that writes each message to zl.
func newLogReactor(cfg config.ConsumerConfig, zl *zap.Logger) processor.Processor {
	start := feed.End
	if cfg.FromBeginning {
		start = feed.Beginning
	}

	return processor.NewReactor(
		cfg.ProcessorID,
		func(_ context.Context, m message.Message) error {
			zl.Info(
				"message recorded",
				zap.String("message_id", m.MetaData.MessageID),
				zap.String("kind", m.Kind.String()),
				zap.String("type", m.Type),
				zap.String("stream", m.MetaData.StreamName.String()),
				zap.Uint64("stream_position", m.MetaData.StreamPosition),
				zap.Time("recorded_at", m.MetaData.RecordedAt),
			)
			return nil
		},
		processor.StartingFrom(start),
		processor.InPartition(cfg.Partition),
	)
}
