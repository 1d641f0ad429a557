package processor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/ledger/feed"
	"github.com/dogmatiq/ledger/internal/x/loggingx"
	"github.com/dogmatiq/ledger/persistence"
	"github.com/dogmatiq/ledger/position"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Consumer pulls messages from a feed and delivers them to its processors.
//
// A single puller is shared by all of the consumer's processors. It starts at
// the earliest position required by any processor, and each processor skips
// the messages at or before its own checkpoint.
type Consumer struct {
	puller      feed.Puller
	checkpoints persistence.CheckpointStore
	locks       persistence.LockManager
	opts        consumerOptions

	m          sync.Mutex
	processors []Processor
	current    *run
	closed     bool

	state atomic.Pointer[State]
}

// run is a single execution of Consumer.Start().
type run struct {
	stopping chan struct{}
	once     sync.Once
	done     chan struct{}
}

func (r *run) stop() {
	r.once.Do(func() {
		close(r.stopping)
	})
}

// NewConsumer returns a consumer that pulls messages from p.
//
// Processors track their progress in cs, and coordinate with other instances
// using the locks in lm.
func NewConsumer(
	p feed.Puller,
	cs persistence.CheckpointStore,
	lm persistence.LockManager,
	opts ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		puller:      p,
		checkpoints: cs,
		locks:       lm,
		opts:        resolveOptions(opts),
	}

	for _, proc := range c.opts.Processors {
		if err := c.Add(proc); err != nil {
			panic(err)
		}
	}

	c.publish(false, nil)

	return c
}

// Add adds a processor to the consumer.
func (c *Consumer) Add(p Processor) error {
	if err := p.Validate(); err != nil {
		return err
	}

	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return ErrConsumerClosed
	}

	if c.current != nil {
		return ErrConsumerRunning
	}

	for _, x := range c.processors {
		if x.ID == p.ID {
			return fmt.Errorf("a processor with ID '%s' has already been added", p.ID)
		}
	}

	c.processors = append(c.processors, p)
	c.publish(false, nil)

	return nil
}

// Start runs the consumer until all of its processors have stopped, Stop() is
// called or ctx is canceled.
//
// Each processor stops when its StopAfter function matches, or when its
// handler fails. The errors that stopped the processors are returned.
//
// Calling Start() again after it returns resumes each processor from its
// checkpoint.
func (c *Consumer) Start(ctx context.Context) error {
	r, processors, err := c.begin()
	if err != nil {
		return err
	}
	defer c.end(r)

	runners, err := c.acquire(ctx, processors)
	defer c.release(ctx, runners)
	if err != nil {
		c.publish(false, runners)
		return err
	}

	var active []*runner
	var starts []position.Token

	for _, rn := range runners {
		if rn.active() {
			active = append(active, rn)
			starts = append(starts, rn.start)
		}
	}

	if len(active) == 0 {
		logging.Log(c.opts.Logger, "no processors are able to run")
		c.publish(false, runners)
		return nil
	}

	start, err := position.Min(starts...)
	if err != nil {
		c.publish(false, runners)
		return err
	}

	c.publish(true, runners)

	err = c.run(ctx, r, runners, start)

	for _, rn := range runners {
		if rn.active() {
			rn.stop(nil)
		}

		err = multierr.Append(err, rn.err)
	}

	c.publish(false, runners)

	return err
}

// Stop stops the consumer if it is running.
//
// Each processor finishes handling its in-flight message before it stops. It
// is safe to call Stop() more than once, or when the consumer is not running.
func (c *Consumer) Stop(ctx context.Context) error {
	c.m.Lock()
	r := c.current
	c.m.Unlock()

	if r == nil {
		return nil
	}

	r.stop()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the consumer and closes the puller if it implements io.Closer.
//
// The consumer can not be started again once it has been closed.
func (c *Consumer) Close(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		return err
	}

	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if closer, ok := c.puller.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// State returns a snapshot of the consumer's state.
func (c *Consumer) State() State {
	return *c.state.Load()
}

// begin marks the consumer as running.
func (c *Consumer) begin() (*run, []Processor, error) {
	c.m.Lock()
	defer c.m.Unlock()

	if c.closed {
		return nil, nil, ErrConsumerClosed
	}

	if c.current != nil {
		return nil, nil, ErrConsumerRunning
	}

	if len(c.processors) == 0 {
		return nil, nil, ErrNoProcessors
	}

	c.current = &run{
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	return c.current, append([]Processor(nil), c.processors...), nil
}

// end marks the consumer as no longer running.
func (c *Consumer) end(r *run) {
	c.m.Lock()
	defer c.m.Unlock()

	c.current = nil
	close(r.done)
}

// acquire acquires the lock for each processor and resolves where it starts.
//
// It returns the runners for all processors, including those that could not
// be started, so that any acquired locks can be released.
func (c *Consumer) acquire(ctx context.Context, processors []Processor) ([]*runner, error) {
	var runners []*runner

	for _, p := range processors {
		rn := &runner{
			proc:   p,
			key:    p.CheckpointKey(),
			lock:   p.LockOptions(c.opts.InstanceID, c.opts.LockTimeout),
			logger: loggingx.WithPrefix(c.opts.Logger, "[%s %s] ", p.Kind, p.ID),
			status: Starting,
		}
		runners = append(runners, rn)

		ok, err := persistence.Acquire(ctx, c.locks, rn.lock, c.opts.LockPolicy)
		if err != nil {
			rn.status = Stopped
			return runners, err
		}

		if !ok {
			rn.status = Stopped
			rn.skipped = true
			logging.Log(rn.logger, "lock is held by another instance, skipping")
			continue
		}

		rn.locked = true

		rn.checkpoint, err = c.checkpoints.LoadCheckpoint(ctx, rn.key)
		if err != nil {
			rn.status = Stopped
			return runners, err
		}

		rn.start, err = p.StartFrom.Resolve(ctx, c.puller, rn.checkpoint)
		if err != nil {
			rn.status = Stopped
			return runners, err
		}

		rn.status = Active

		logging.Log(
			rn.logger,
			"starting after %s (checkpoint: %s, start from: %s)",
			describe(rn.start),
			describe(rn.checkpoint),
			p.StartFrom,
		)
	}

	return runners, nil
}

// release releases the locks held by the runners.
func (c *Consumer) release(ctx context.Context, runners []*runner) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultReleaseTimeout)
	defer cancel()

	for _, rn := range runners {
		if !rn.locked {
			continue
		}

		if err := c.locks.Release(ctx, rn.lock); err != nil {
			logging.Log(rn.logger, "unable to release lock: %s", err)
		}

		rn.locked = false
	}
}

// run pulls messages and dispatches them to the runners until they have all
// stopped.
func (c *Consumer) run(
	ctx context.Context,
	r *run,
	runners []*runner,
	start position.Token,
) error {
	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan feed.Batch, DefaultBufferSize)

	g.Go(func() error {
		err := c.puller.Pull(ctx, start, batches)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("unable to pull messages: %w", err)
	})

	for _, rn := range runners {
		if rn.active() && rn.lock.Exclusivity == persistence.Exclusive {
			g.Go(func() error {
				rn.heartbeat(ctx, c.locks)
				return nil
			})
		}
	}

	g.Go(func() error {
		defer cancel()
		return c.dispatch(ctx, r, runners, batches)
	})

	return g.Wait()
}

// dispatch delivers each batch to the active runners.
func (c *Consumer) dispatch(
	ctx context.Context,
	r *run,
	runners []*runner,
	batches <-chan feed.Batch,
) error {
	for {
		var active []*runner
		for _, rn := range runners {
			if rn.active() {
				active = append(active, rn)
			}
		}

		if len(active) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.stopping:
			return nil

		case b := <-batches:
			var g errgroup.Group
			g.SetLimit(c.opts.Concurrency)

			for _, rn := range active {
				g.Go(func() error {
					rn.deliver(ctx, c, b, r.stopping)
					return nil
				})
			}

			g.Wait()
			c.publish(true, runners)
		}
	}
}

// publish stores a snapshot of the consumer's state.
func (c *Consumer) publish(running bool, runners []*runner) {
	s := &State{
		Running: running,
	}

	if runners == nil {
		for _, p := range c.processors {
			s.Processors = append(s.Processors, ProcessorState{
				ID:     p.ID,
				Kind:   p.Kind,
				Status: Idle,
			})
		}
	} else {
		for _, rn := range runners {
			s.Processors = append(s.Processors, ProcessorState{
				ID:         rn.proc.ID,
				Kind:       rn.proc.Kind,
				Status:     rn.status,
				Checkpoint: rn.checkpoint,
				Handled:    rn.handled,
				Skipped:    rn.skipped,
				Err:        rn.err,
			})
		}
	}

	c.state.Store(s)
}
