package processor

import (
	"context"
	"sync/atomic"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/internal/tracing"
	"github.com/dogmatiq/ledger/message"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"github.com/dogmatiq/linger"
)

// runner is the state of a single processor while its consumer is running.
//
// Its fields are only accessed by the consumer's dispatch goroutine, with
// the exception of lost.
type runner struct {
	proc   Processor
	key    persistence.CheckpointKey
	lock   persistence.LockOptions
	logger logging.Logger

	status     Status
	locked     bool
	skipped    bool
	checkpoint position.Token
	start      position.Token
	handled    uint64
	err        error

	// lost is set by the heartbeat when the lock is taken over.
	lost atomic.Bool
}

func (r *runner) active() bool {
	return r.status == Active
}

// stop marks the processor as stopped, recording err as the cause.
func (r *runner) stop(err error) {
	r.status = Stopped

	if err != nil {
		r.err = err
		logging.Log(r.logger, "stopped: %s", err)
	} else {
		logging.Log(r.logger, "stopped at %s", describe(r.checkpoint))
	}
}

// deliver passes the messages in b to the processor.
//
// stopping is closed when the consumer is asked to stop, in which case the
// processor stops after any in-flight message.
func (r *runner) deliver(
	ctx context.Context,
	c *Consumer,
	b feed.Batch,
	stopping <-chan struct{},
) {
	if r.lost.Load() {
		r.stop(ErrLockLost)
		return
	}

	messages, err := r.unseen(b.Messages)
	if err != nil {
		r.stop(err)
		return
	}

	switch r.proc.Kind {
	case Projector:
		r.project(ctx, c, messages)
	default:
		r.react(ctx, c, messages, stopping)
	}
}

// unseen returns the messages that are after the processor's checkpoint and
// its starting position.
func (r *runner) unseen(messages []message.Message) ([]message.Message, error) {
	after := r.start
	if c, err := position.Compare(r.checkpoint, after); err != nil {
		return nil, err
	} else if c > 0 {
		after = r.checkpoint
	}

	for i, m := range messages {
		c, err := position.Compare(m.MetaData.GlobalPosition, after)
		if err != nil {
			return nil, err
		}

		if c > 0 {
			return messages[i:], nil
		}
	}

	return nil, nil
}

// react handles messages one at a time.
//
// The checkpoint is stored after each handled message. Progress over
// messages the reactor does not handle is stored once per batch.
func (r *runner) react(
	ctx context.Context,
	c *Consumer,
	messages []message.Message,
	stopping <-chan struct{},
) {
	var pending position.Token

	flush := func() bool {
		if pending == nil {
			return true
		}

		if err := c.storeCheckpoint(ctx, r, pending); err != nil {
			r.stop(err)
			return false
		}

		pending = nil
		return true
	}

	for _, m := range messages {
		select {
		case <-stopping:
			if flush() {
				r.stop(nil)
			}
			return
		default:
		}

		if r.proc.Handles(m) {
			if err := c.handle(ctx, r, m); err != nil {
				if flush() {
					r.stop(&HandlerError{ProcessorID: r.proc.ID, Cause: err})
				}
				return
			}

			r.handled++
			pending = m.MetaData.GlobalPosition

			if !flush() {
				return
			}
		} else {
			pending = m.MetaData.GlobalPosition
		}

		if r.proc.StopAfter != nil && r.proc.StopAfter(m) {
			if flush() {
				r.stop(nil)
			}
			return
		}
	}

	flush()
}

// project applies messages as a single batch, truncated at the first
// message that matches StopAfter.
func (r *runner) project(
	ctx context.Context,
	c *Consumer,
	messages []message.Message,
) {
	if len(messages) == 0 {
		return
	}

	done := false

	if r.proc.StopAfter != nil {
		for i, m := range messages {
			if r.proc.StopAfter(m) {
				messages = messages[:i+1]
				done = true
				break
			}
		}
	}

	var matches []message.Message
	for _, m := range messages {
		if r.proc.Handles(m) {
			matches = append(matches, m)
		}
	}

	if len(matches) > 0 {
		if err := c.project(ctx, r, matches); err != nil {
			r.stop(&HandlerError{ProcessorID: r.proc.ID, Cause: err})
			return
		}

		r.handled += uint64(len(matches))
	}

	last := messages[len(messages)-1].MetaData.GlobalPosition
	if err := c.storeCheckpoint(ctx, r, last); err != nil {
		r.stop(err)
		return
	}

	if done {
		r.stop(nil)
	}
}

// heartbeat refreshes the processor's lock until ctx is canceled or the lock
// is lost.
func (r *runner) heartbeat(ctx context.Context, locks persistence.LockManager) {
	interval := r.lock.Timeout / 2

	for {
		if err := linger.Sleep(ctx, interval); err != nil {
			return
		}

		ok, err := locks.Refresh(ctx, r.lock)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			logging.Log(r.logger, "unable to refresh lock: %s", err)
			continue
		}

		if !ok {
			logging.Log(r.logger, "lock is no longer held by this instance")
			r.lost.Store(true)
			return
		}
	}
}

// handle calls the reactor's handler for a single message.
func (c *Consumer) handle(ctx context.Context, r *runner, m message.Message) (err error) {
	ctx, span := tracing.Start(
		ctx,
		"ledger.processor.handle",
		append(
			tracing.MessageAttributes(m),
			tracing.ProcessorIDKey.String(r.proc.ID),
			tracing.ProcessorKindKey.String(r.proc.Kind.String()),
		)...,
	)
	defer func() { tracing.End(span, err) }()

	ctx, cancel := c.handlerContext(ctx)
	defer cancel()

	return r.proc.EachMessage(ctx, m)
}

// project calls the projector's handler for a batch of messages.
func (c *Consumer) project(ctx context.Context, r *runner, messages []message.Message) (err error) {
	ctx, span := tracing.Start(
		ctx,
		"ledger.processor.project",
		tracing.ProcessorIDKey.String(r.proc.ID),
		tracing.ProcessorKindKey.String(r.proc.Kind.String()),
		tracing.MessageCountKey.Int(len(messages)),
	)
	defer func() { tracing.End(span, err) }()

	ctx, cancel := c.handlerContext(ctx)
	defer cancel()

	return r.proc.Project(ctx, messages)
}

// handlerContext returns the context passed to a processor's handler. It only
// carries a deadline if a handler timeout is configured.
func (c *Consumer) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.HandlerTimeout == 0 {
		return context.WithCancel(ctx)
	}
	return linger.ContextWithTimeout(ctx, c.opts.HandlerTimeout)
}

// storeCheckpoint stores next as the processor's checkpoint.
//
// Ignored is treated as success. A conflict means that another writer owns
// the checkpoint, so it is returned as an error.
func (c *Consumer) storeCheckpoint(ctx context.Context, r *runner, next position.Token) (err error) {
	if next == nil {
		return nil
	}

	ctx, span := tracing.Start(
		ctx,
		"ledger.checkpoint.store",
		tracing.ProcessorIDKey.String(r.proc.ID),
		tracing.GlobalPositionKey.String(next.String()),
	)
	defer func() { tracing.End(span, err) }()

	res, err := c.checkpoints.StoreCheckpoint(ctx, r.key, r.checkpoint, next)
	if err != nil {
		return err
	}

	span.SetAttributes(tracing.CheckpointReasonKey.String(res.Reason.String()))

	switch res.Reason {
	case persistence.Stored:
		r.checkpoint = res.Checkpoint
		return nil
	case persistence.Ignored:
		return nil
	default:
		return &CheckpointConflictError{
			ProcessorID: r.proc.ID,
			Reason:      res.Reason,
			Expected:    r.checkpoint,
			Attempted:   next,
		}
	}
}
