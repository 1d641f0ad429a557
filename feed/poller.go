package feed

import (
	"context"
	"sync"
	"time"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

var (
	// DefaultBatchSize is the default maximum number of messages read by each
	// poll.
	DefaultBatchSize = 100

	// DefaultPollBackoff is the default strategy used to delay polls when no
	// more messages are available.
	DefaultPollBackoff backoff.Strategy = backoff.WithTransforms(
		backoff.Exponential(10*time.Millisecond),
		linger.FullJitter,
		linger.Limiter(0, 5*time.Second),
	)
)

// Poller is a Puller that repeatedly reads messages from a global reader.
//
// A poll that returns a full batch is followed immediately by another poll.
// Otherwise the next poll is delayed according to the backoff strategy, or
// until Notify() is called.
type Poller struct {
	// Source is the reader that messages are polled from.
	Source persistence.GlobalReader

	// BatchSize is the maximum number of messages read by each poll. If it is
	// zero, DefaultBatchSize is used.
	BatchSize int

	// BackoffStrategy is the strategy used to delay polls that do not return a
	// full batch. If it is nil, DefaultPollBackoff is used.
	BackoffStrategy backoff.Strategy

	// Logger is the target for log messages from the poller. If it is nil,
	// logging.DefaultLogger is used.
	Logger logging.Logger

	m     sync.Mutex
	ready chan struct{}
}

var _ Puller = (*Poller)(nil)

// Pull sends batches of messages recorded after the given position to out
// until ctx is canceled or an error occurs.
func (p *Poller) Pull(
	ctx context.Context,
	after position.Token,
	out chan<- Batch,
) error {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	strategy := p.BackoffStrategy
	if strategy == nil {
		strategy = DefaultPollBackoff
	}

	counter := backoff.Counter{Strategy: strategy}

	logging.Debug(
		p.Logger,
		"polling for messages after %s, batch size is %d",
		describe(after),
		size,
	)

	for {
		// The ready channel is obtained before reading so that a notification
		// that arrives during the read is not missed.
		ready := p.wait()

		messages, err := p.Source.ReadAll(ctx, after, size)
		if err != nil {
			return err
		}

		if len(messages) > 0 {
			select {
			case out <- Batch{Messages: messages}:
			case <-ctx.Done():
				return ctx.Err()
			}

			after = messages[len(messages)-1].MetaData.GlobalPosition
			counter.Reset()
		}

		if len(messages) == size {
			continue
		}

		if err := sleep(ctx, counter.Fail(nil), ready); err != nil {
			return err
		}
	}
}

// Head returns the position of the most recently recorded message.
func (p *Poller) Head(ctx context.Context) (position.Token, error) {
	return p.Source.Head(ctx)
}

// Notify wakes any pulls that are waiting for new messages.
//
// It has the signature of a persistence.AfterCommitHook so that it can be
// registered with the store that the poller reads from.
func (p *Poller) Notify(context.Context, []message.Message) error {
	p.m.Lock()
	defer p.m.Unlock()

	if p.ready != nil {
		close(p.ready)
		p.ready = nil
	}

	return nil
}

// wait returns a channel that is closed the next time Notify() is called.
func (p *Poller) wait() <-chan struct{} {
	p.m.Lock()
	defer p.m.Unlock()

	if p.ready == nil {
		p.ready = make(chan struct{})
	}

	return p.ready
}

// sleep blocks until d has elapsed, ready is closed or ctx is canceled.
func sleep(ctx context.Context, d time.Duration, ready <-chan struct{}) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
		return nil
	case <-timer.C:
		return nil
	}
}

// describe returns a human-readable description of a position.
func describe(t position.Token) string {
	if t == nil {
		return "the beginning"
	}
	return t.String()
}
