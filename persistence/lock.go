package persistence

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
)

// UnknownInstanceID is the owner of a lock record that is not owned by any
// instance.
const UnknownInstanceID = "unknown"

// DefaultLockTimeout is the default duration after which a lock owner that
// has not refreshed its lock is presumed to have crashed.
var DefaultLockTimeout = 5 * time.Minute

// Exclusivity is an enumeration of lock modes.
type Exclusivity int

const (
	// Exclusive locks are held by at most one instance.
	Exclusive Exclusivity = iota

	// Shared locks may be held by any number of instances, provided the lock is
	// not held exclusively.
	Shared
)

func (e Exclusivity) String() string {
	if e == Shared {
		return "shared"
	}
	return "exclusive"
}

// Status is the status of a processor or projection lock record.
type Status string

const (
	// StatusStopped is the status of a processor that is not running.
	StatusStopped Status = "stopped"

	// StatusRunning is the status of a processor that is exclusively owned by
	// a running instance.
	StatusRunning Status = "running"

	// StatusAsyncProcessing is the status of a projection that is exclusively
	// owned by an instance that is projecting asynchronously.
	StatusAsyncProcessing Status = "async_processing"

	// StatusActive is the status of a projection that is available.
	StatusActive Status = "active"

	// StatusInactive is the status of a projection that has been disabled.
	StatusInactive Status = "inactive"
)

// IsExclusive returns true if the status indicates an exclusive owner.
func (s Status) IsExclusive() bool {
	return s == StatusRunning || s == StatusAsyncProcessing
}

// LockOptions describes a lock.
type LockOptions struct {
	// ProcessorID is the ID of the processor that the lock belongs to.
	ProcessorID string

	// ProjectionName is the name of the projection the lock belongs to, if
	// any. If it is non-empty the lock record is the projection's record,
	// otherwise it is the processor's record.
	ProjectionName string

	Partition string
	Version   int

	// InstanceID identifies the instance that is acquiring the lock.
	InstanceID string

	Exclusivity Exclusivity

	// Timeout is the duration after which a lock that has not been refreshed
	// may be taken over. If it is zero, DefaultLockTimeout is used.
	Timeout time.Duration
}

// WithDefaults returns a copy of o with defaults applied to empty fields.
func (o LockOptions) WithDefaults() LockOptions {
	if o.Partition == "" {
		o.Partition = DefaultPartition
	}

	if o.Timeout == 0 {
		o.Timeout = DefaultLockTimeout
	}

	return o
}

// IsProjection returns true if the lock record is a projection record.
func (o LockOptions) IsProjection() bool {
	return o.ProjectionName != ""
}

// Name returns the name of the lock record, which is the projection name if
// present, otherwise the processor ID.
func (o LockOptions) Name() string {
	if o.IsProjection() {
		return o.ProjectionName
	}
	return o.ProcessorID
}

// Key returns the string form of the lock key.
func (o LockOptions) Key() string {
	o = o.WithDefaults()
	return fmt.Sprintf("%s:%s:%d", o.Partition, o.Name(), o.Version)
}

// Hash returns a 64-bit integer derived from the lock key, suitable for use
// as a database advisory lock key.
func (o LockOptions) Hash() int64 {
	sum := sha256.Sum256([]byte(o.Key()))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// AcquiredStatus returns the status recorded when the lock is acquired
// exclusively.
func (o LockOptions) AcquiredStatus() Status {
	if o.IsProjection() {
		return StatusAsyncProcessing
	}
	return StatusRunning
}

// ReleasedStatus returns the status recorded when an exclusive lock is
// released.
func (o LockOptions) ReleasedStatus() Status {
	if o.IsProjection() {
		return StatusActive
	}
	return StatusStopped
}

// LockRecord is the stored state of a processor or projection lock.
type LockRecord struct {
	Status          Status
	OwnerInstanceID string
	LastUpdated     time.Time
}

// CanAcquire returns true if a lock described by o can be acquired at time
// now, given the stored record.
//
// rec is nil if there is no stored record.
func CanAcquire(rec *LockRecord, o LockOptions, now time.Time) bool {
	if rec == nil {
		return true
	}

	o = o.WithDefaults()

	if rec.Status == StatusInactive {
		return false
	}

	if !rec.Status.IsExclusive() {
		return true
	}

	return rec.OwnerInstanceID == o.InstanceID ||
		rec.OwnerInstanceID == UnknownInstanceID ||
		now.Sub(rec.LastUpdated) > o.Timeout
}

// LockManager coordinates ownership of processors and projections between
// instances.
type LockManager interface {
	// TryAcquire attempts to acquire the lock described by o.
	//
	// It returns false if the lock is held by another instance.
	TryAcquire(ctx context.Context, o LockOptions) (bool, error)

	// Refresh renews an exclusive lock that is held by o.InstanceID.
	//
	// It returns false if the lock is no longer held by the instance.
	Refresh(ctx context.Context, o LockOptions) (bool, error)

	// Release releases the lock described by o if it is held by
	// o.InstanceID, otherwise it does nothing.
	Release(ctx context.Context, o LockOptions) error
}

// PolicyKind is an enumeration of the behaviors when a lock can not be
// acquired.
type PolicyKind int

const (
	// PolicyFail returns an error if the lock can not be acquired.
	PolicyFail PolicyKind = iota

	// PolicySkip returns false if the lock can not be acquired.
	PolicySkip

	// PolicyRetry retries acquisition with a backoff strategy, returning false
	// if the attempts are exhausted.
	PolicyRetry
)

// DefaultLockRetryBackoff is the default backoff strategy used by
// RetryPolicy().
var DefaultLockRetryBackoff backoff.Strategy = backoff.WithTransforms(
	backoff.Exponential(100*time.Millisecond),
	linger.FullJitter,
	linger.Limiter(0, 30*time.Second),
)

// LockPolicy determines what happens when a lock can not be acquired.
type LockPolicy struct {
	Kind PolicyKind

	// MaxAttempts is the maximum number of attempts made by PolicyRetry. If it
	// is zero, acquisition is retried until ctx is canceled.
	MaxAttempts int

	// Strategy is the backoff strategy used by PolicyRetry. If it is nil,
	// DefaultLockRetryBackoff is used.
	Strategy backoff.Strategy
}

var (
	// FailPolicy is a lock policy that returns an error if the lock can not be
	// acquired.
	FailPolicy = LockPolicy{Kind: PolicyFail}

	// SkipPolicy is a lock policy that returns false if the lock can not be
	// acquired.
	SkipPolicy = LockPolicy{Kind: PolicySkip}
)

// RetryPolicy returns a lock policy that makes up to n attempts to acquire
// the lock, backing off between attempts according to s.
func RetryPolicy(n int, s backoff.Strategy) LockPolicy {
	if n < 0 {
		panic("attempts must not be negative")
	}

	return LockPolicy{
		Kind:        PolicyRetry,
		MaxAttempts: n,
		Strategy:    s,
	}
}

// Acquire acquires a lock according to the given policy.
func Acquire(
	ctx context.Context,
	m LockManager,
	o LockOptions,
	p LockPolicy,
) (bool, error) {
	ok, err := m.TryAcquire(ctx, o)
	if err != nil || ok {
		return ok, err
	}

	switch p.Kind {
	case PolicySkip:
		return false, nil
	case PolicyRetry:
		return retryAcquire(ctx, m, o, p)
	default:
		return false, &LockNotAcquiredError{
			Key:         o.Key(),
			Exclusivity: o.Exclusivity,
		}
	}
}

func retryAcquire(
	ctx context.Context,
	m LockManager,
	o LockOptions,
	p LockPolicy,
) (bool, error) {
	s := p.Strategy
	if s == nil {
		s = DefaultLockRetryBackoff
	}

	counter := backoff.Counter{Strategy: s}

	for attempt := 1; p.MaxAttempts == 0 || attempt < p.MaxAttempts; attempt++ {
		if err := counter.Sleep(ctx, nil); err != nil {
			return false, err
		}

		ok, err := m.TryAcquire(ctx, o)
		if err != nil || ok {
			return ok, err
		}
	}

	return false, nil
}
