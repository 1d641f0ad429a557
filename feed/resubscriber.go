package feed

import (
	"context"
	"errors"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/position"
	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// Resubscriber is a Puller that resubscribes to another puller when it fails
// because the backend is unavailable.
//
// Each resubscription resumes after the last message that was delivered.
type Resubscriber struct {
	// Puller is the puller to subscribe to.
	Puller Puller

	// IsUnavailable returns true if err indicates that the backend is
	// temporarily unavailable. If it is nil, no error causes a resubscription.
	IsUnavailable func(err error) bool

	// BackoffStrategy is the strategy used to delay resubscription. If it is
	// nil, backoff.DefaultStrategy is used.
	BackoffStrategy backoff.Strategy

	// MaxAttempts is the maximum number of consecutive failed subscriptions
	// before the error is returned. If it is zero, the puller resubscribes
	// indefinitely.
	MaxAttempts int

	// Logger is the target for log messages about resubscriptions. If it is
	// nil, logging.DefaultLogger is used.
	Logger logging.Logger
}

var _ Puller = (*Resubscriber)(nil)

// Pull sends batches of messages recorded after the given position to out
// until ctx is canceled or an error that does not indicate unavailability
// occurs.
func (r *Resubscriber) Pull(
	ctx context.Context,
	after position.Token,
	out chan<- Batch,
) error {
	counter := backoff.Counter{
		Strategy: r.BackoffStrategy,
	}

	failures := 0

	for {
		delivered, err := r.subscribe(ctx, &after, out)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !r.retryable(err) {
			return err
		}

		if delivered {
			failures = 0
			counter.Reset()
		}

		failures++
		if r.MaxAttempts > 0 && failures >= r.MaxAttempts {
			return err
		}

		delay := counter.Fail(err)

		logging.Log(
			r.Logger,
			"feed is unavailable, resubscribing after %s in %s: %s",
			describe(after),
			delay,
			err,
		)

		if err := linger.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Head returns the position of the most recently recorded message.
func (r *Resubscriber) Head(ctx context.Context) (position.Token, error) {
	return r.Puller.Head(ctx)
}

// subscribe pulls from the underlying puller until it fails, forwarding each
// batch to out and advancing *after past it.
func (r *Resubscriber) subscribe(
	ctx context.Context,
	after *position.Token,
	out chan<- Batch,
) (delivered bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan Batch)
	result := make(chan error, 1)

	go func() {
		result <- r.Puller.Pull(ctx, *after, batches)
	}()

	for {
		select {
		case b := <-batches:
			select {
			case out <- b:
			case <-ctx.Done():
				cancel()
				<-result
				return delivered, ctx.Err()
			}

			if p := b.Last(); p != nil {
				*after = p
			}
			delivered = true

		case err := <-result:
			return delivered, err
		}
	}
}

func (r *Resubscriber) retryable(err error) bool {
	if err == nil || r.IsUnavailable == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return r.IsUnavailable(err)
}
