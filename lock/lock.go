// Package lock provides named leases over a cache.Backend.
//
// A lock is a string entry written with SetIfAbsent and a lease TTL. The
// value is a random owner token, and release deletes the entry only while
// it still holds that token, so an expired lease taken over by another
// owner is never released by mistake.
package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/pkg/logging"
)

const (
	// DefaultLeaseTime bounds how long a lock survives a crashed owner.
	DefaultLeaseTime = 30 * time.Second
	// DefaultRetryInterval is the pause between attempts in Acquire.
	DefaultRetryInterval = 50 * time.Millisecond
	// Bucket is the key bucket lock entries live in.
	Bucket = "lock"
)

var (
	// ErrWaitTimeout is returned by Acquire when the wait elapses.
	ErrWaitTimeout = errors.New("lock: wait timed out")
	// ErrNotHeld is returned by Release when the lock is not held by this owner.
	ErrNotHeld = errors.New("lock: not held")
)

// Option configures a Factory.
type Option func(*Factory)

// WithLeaseTime sets the default lease.
func WithLeaseTime(d time.Duration) Option {
	return func(f *Factory) { f.lease = d }
}

// WithRetryInterval sets the pause between attempts in Acquire.
func WithRetryInterval(d time.Duration) Option {
	return func(f *Factory) { f.retry = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// Factory hands out locks backed by one cache backend.
type Factory struct {
	backend cache.Backend
	keys    cache.KeyBuilder
	lease   time.Duration
	retry   time.Duration
	logger  logging.Logger
}

// NewFactory builds a Factory.
func NewFactory(backend cache.Backend, opts ...Option) (*Factory, error) {
	if backend == nil {
		return nil, errors.New("lock: cache backend is required")
	}
	f := &Factory{
		backend: backend,
		keys:    cache.NewKeyBuilder(nil),
		lease:   DefaultLeaseTime,
		retry:   DefaultRetryInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.lease <= 0 {
		return nil, fmt.Errorf("lock: lease time must be positive, got %s", f.lease)
	}
	if f.retry <= 0 {
		f.retry = DefaultRetryInterval
	}
	f.logger = logging.OrNop(f.logger)
	return f, nil
}

// Lock returns the lock called name with the default lease.
func (f *Factory) Lock(name string) *Lock {
	return f.LockWithLease(name, f.lease)
}

// LockWithLease returns the lock called name with the given lease.
func (f *Factory) LockWithLease(name string, lease time.Duration) *Lock {
	return f.newLock([]string{name}, lease)
}

// MultiLock returns a lock over several names that is taken all or nothing.
// Names are deduplicated and taken in sorted order so two owners never
// deadlock on overlapping sets.
func (f *Factory) MultiLock(names []string) *Lock {
	return f.MultiLockWithLease(names, f.lease)
}

// MultiLockWithLease is MultiLock with an explicit lease.
func (f *Factory) MultiLockWithLease(names []string, lease time.Duration) *Lock {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	return f.newLock(slices.Compact(sorted), lease)
}

func (f *Factory) newLock(names []string, lease time.Duration) *Lock {
	if lease <= 0 {
		lease = f.lease
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = f.keys.Key("", Bucket, n)
	}
	return &Lock{
		f:     f,
		names: names,
		keys:  keys,
		owner: []byte(uuid.NewString()),
		lease: lease,
	}
}

// Lock is a lease on one or more names. A Lock value belongs to one owner
// and may be acquired again after it is released.
type Lock struct {
	f     *Factory
	names []string
	keys  []string
	owner []byte
	lease time.Duration

	mu   sync.Mutex
	held bool
}

// Names returns the locked names.
func (l *Lock) Names() []string { return slices.Clone(l.names) }

// Owner returns the token written to the lock entries.
func (l *Lock) Owner() string { return string(l.owner) }

// TryAcquire takes the lock if it is free and reports whether it did.
// Entries still carrying this lock's owner token count as taken; an expired
// lease picked up by another owner does not.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	taken := make([]string, 0, len(l.keys))
	for _, key := range l.keys {
		ok, err := l.take(ctx, key)
		if err == nil && ok {
			taken = append(taken, key)
			continue
		}
		l.rollback(ctx, taken)
		if l.held {
			l.f.logger.Warn("lock lease lost", "names", l.names, "owner", l.Owner())
		}
		l.held = false
		return false, err
	}
	if l.held {
		return true, nil
	}
	l.held = true
	l.f.logger.Debug("lock acquired", "names", l.names, "owner", l.Owner())
	return true, nil
}

// Acquire blocks until the lock is taken, wait elapses or ctx is done. A
// wait of zero or less waits for ctx alone.
func (l *Lock) Acquire(ctx context.Context, wait time.Duration) error {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.f.retry)
	defer ticker.Stop()

	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrWaitTimeout, l.names)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release frees the lock. Entries taken over by another owner after the
// lease expired are left alone; if none of the entries still belonged to
// this owner ErrNotHeld is returned.
func (l *Lock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	released := 0
	var errs []error
	for _, key := range l.keys {
		ok, err := l.f.backend.CompareAndDelete(ctx, key, l.owner)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			released++
		}
	}
	l.held = false
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("lock: release %v: %w", l.names, err)
	}
	if released == 0 {
		return ErrNotHeld
	}
	l.f.logger.Debug("lock released", "names", l.names, "owner", l.Owner())
	return nil
}

func (l *Lock) take(ctx context.Context, key string) (bool, error) {
	if l.held {
		current, found, err := l.f.backend.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if found && bytes.Equal(current, l.owner) {
			return true, nil
		}
	}
	return l.f.backend.SetIfAbsent(ctx, key, l.owner, l.lease)
}

func (l *Lock) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		if _, err := l.f.backend.CompareAndDelete(ctx, key, l.owner); err != nil {
			l.f.logger.Warn("lock rollback failed", "key", key, "error", err)
		}
	}
}
