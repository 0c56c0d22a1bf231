package cacheinfra

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-repository-core/pkg/clock"
)

// stringEntry is the value held by the sturdyc client. sturdyc applies one
// TTL to every entry, so shorter per entry expiry is checked on read.
type stringEntry struct {
	value    []byte
	expireAt time.Time
}

// SturdycBackend is an in-process cache. Strings live in a sharded sturdyc
// client; hashes and sorted sets live in xsync maps with their own expiry.
type SturdycBackend struct {
	strings *sturdyc.Client[stringEntry]
	// writeMu serializes string writes so SetIfAbsent is atomic.
	writeMu sync.Mutex
	hashes  *xsync.MapOf[string, *hashEntry]
	zsets   *xsync.MapOf[string, *zsetEntry]
	clock   clock.Clock
}

// Option configures a SturdycBackend.
type Option func(*SturdycBackend)

// WithClock sets the clock used for per entry expiry.
func WithClock(c clock.Clock) Option {
	return func(b *SturdycBackend) { b.clock = c }
}

// NewSturdycBackend validates cfg and builds the backend.
func NewSturdycBackend(cfg Config, opts ...Option) (*SturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &SturdycBackend{
		strings: sturdyc.New[stringEntry](
			cfg.Capacity,
			cfg.NumShards,
			cfg.TTL,
			cfg.EvictionPercentage,
			cfg.ToSturdycOptions()...,
		),
		hashes: xsync.NewMapOf[string, *hashEntry](),
		zsets:  xsync.NewMapOf[string, *zsetEntry](),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *SturdycBackend) now() time.Time { return b.clock.Now() }

func (b *SturdycBackend) getString(key string) (stringEntry, bool) {
	e, ok := b.strings.Get(key)
	if !ok || expired(e.expireAt, b.now()) {
		return stringEntry{}, false
	}
	return e, true
}

// ----- strings

// Get returns the value stored at key.
func (b *SturdycBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	e, ok := b.getString(key)
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

// MGet returns the values of the keys that exist. Misses are absent from the
// result.
func (b *SturdycBackend) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := b.now()
	out := make(map[string][]byte, len(keys))
	for key, e := range b.strings.GetMany(keys) {
		if expired(e.expireAt, now) {
			continue
		}
		out[key] = slices.Clone(e.value)
	}
	return out, nil
}

// Set stores value at key. A ttl of zero keeps the entry until the client
// TTL evicts it.
func (b *SturdycBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.strings.Set(key, stringEntry{value: slices.Clone(value), expireAt: expiry(b.now(), ttl)})
	return nil
}

// SetIfAbsent stores value only when key holds no live entry.
func (b *SturdycBackend) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, ok := b.getString(key); ok {
		return false, nil
	}
	b.strings.Set(key, stringEntry{value: slices.Clone(value), expireAt: expiry(b.now(), ttl)})
	return true, nil
}

// CompareAndDelete removes the string at key only when it holds expected.
func (b *SturdycBackend) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	e, ok := b.getString(key)
	if !ok || !bytes.Equal(e.value, expected) {
		return false, nil
	}
	b.strings.Delete(key)
	return true, nil
}

// Delete removes keys of any kind.
func (b *SturdycBackend) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	for _, key := range keys {
		b.strings.Delete(key)
		b.hashes.Delete(key)
		b.zsets.Delete(key)
	}
	return nil
}

// Exists reports whether key holds a live entry of any kind.
func (b *SturdycBackend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, ok := b.getString(key); ok {
		return true, nil
	}
	now := b.now()
	if h, ok := b.hashes.Load(key); ok && !expired(h.expireAt, now) {
		return true, nil
	}
	if z, ok := b.zsets.Load(key); ok && !expired(z.expireAt, now) {
		return true, nil
	}
	return false, nil
}

// Expire sets a ttl on key. It reports false when key does not exist.
func (b *SturdycBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return b.ExpireAt(ctx, key, b.now().Add(ttl))
}

// ExpireAt sets an absolute expiry on key. It reports false when key does
// not exist.
func (b *SturdycBackend) ExpireAt(ctx context.Context, key string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := b.now()
	touched := false

	b.writeMu.Lock()
	if e, ok := b.getString(key); ok {
		e.expireAt = at
		b.strings.Set(key, e)
		touched = true
	}
	b.writeMu.Unlock()

	b.hashes.Compute(key, func(old *hashEntry, loaded bool) (*hashEntry, bool) {
		if !loaded || expired(old.expireAt, now) {
			return nil, true
		}
		next := old.clone()
		next.expireAt = at
		touched = true
		return next, false
	})
	b.zsets.Compute(key, func(old *zsetEntry, loaded bool) (*zsetEntry, bool) {
		if !loaded || expired(old.expireAt, now) {
			return nil, true
		}
		next := old.clone()
		next.expireAt = at
		touched = true
		return next, false
	})
	return touched, nil
}

// ----- hashes

// HSet writes fields into the hash at key. A positive ttl resets its expiry.
func (b *SturdycBackend) HSet(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := b.now()
	b.hashes.Compute(key, func(old *hashEntry, loaded bool) (*hashEntry, bool) {
		next := &hashEntry{fields: make(map[string][]byte, len(fields))}
		if loaded && !expired(old.expireAt, now) {
			next = old.clone()
		}
		for f, v := range fields {
			next.fields[f] = slices.Clone(v)
		}
		if ttl > 0 {
			next.expireAt = now.Add(ttl)
		}
		return next, false
	})
	return nil
}

func (b *SturdycBackend) hash(key string) (*hashEntry, bool) {
	h, ok := b.hashes.Load(key)
	if !ok || expired(h.expireAt, b.now()) {
		return nil, false
	}
	return h, true
}

// HGet returns one field of the hash at key.
func (b *SturdycBackend) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	h, ok := b.hash(key)
	if !ok {
		return nil, false, nil
	}
	v, ok := h.fields[field]
	return slices.Clone(v), ok, nil
}

// HMGet returns the requested fields that exist.
func (b *SturdycBackend) HMGet(ctx context.Context, key string, fields []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(fields))
	h, ok := b.hash(key)
	if !ok {
		return out, nil
	}
	for _, f := range fields {
		if v, ok := h.fields[f]; ok {
			out[f] = slices.Clone(v)
		}
	}
	return out, nil
}

// HGetAll returns every field of the hash at key.
func (b *SturdycBackend) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	if h, ok := b.hash(key); ok {
		for f, v := range h.fields {
			out[f] = slices.Clone(v)
		}
	}
	return out, nil
}

// HDel removes fields from the hash at key and returns how many existed.
func (b *SturdycBackend) HDel(ctx context.Context, key string, fields ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := b.now()
	removed := 0
	b.hashes.Compute(key, func(old *hashEntry, loaded bool) (*hashEntry, bool) {
		if !loaded || expired(old.expireAt, now) {
			return nil, true
		}
		next := old.clone()
		for _, f := range fields {
			if _, ok := next.fields[f]; ok {
				delete(next.fields, f)
				removed++
			}
		}
		return next, len(next.fields) == 0
	})
	return removed, nil
}

// HKeys lists the fields of the hash at key, sorted.
func (b *SturdycBackend) HKeys(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := b.hash(key)
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(h.fields))
	for f := range h.fields {
		keys = append(keys, f)
	}
	slices.Sort(keys)
	return keys, nil
}

// ----- sorted sets

// ZAdd adds or rescores members of the sorted set at key. A positive ttl
// resets its expiry.
func (b *SturdycBackend) ZAdd(ctx context.Context, key string, members []ZMember, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := b.now()
	b.zsets.Compute(key, func(old *zsetEntry, loaded bool) (*zsetEntry, bool) {
		next := &zsetEntry{scores: make(map[string]float64, len(members))}
		if loaded && !expired(old.expireAt, now) {
			next = old.clone()
		}
		for _, m := range members {
			next.scores[m.Member] = m.Score
		}
		if ttl > 0 {
			next.expireAt = now.Add(ttl)
		}
		return next, false
	})
	return nil
}

// ZPopMin removes and returns up to count lowest scored members.
func (b *SturdycBackend) ZPopMin(ctx context.Context, key string, count int) ([]ZMember, error) {
	return b.zpop(ctx, key, count, false)
}

// ZPopMax removes and returns up to count highest scored members.
func (b *SturdycBackend) ZPopMax(ctx context.Context, key string, count int) ([]ZMember, error) {
	return b.zpop(ctx, key, count, true)
}

func (b *SturdycBackend) zpop(ctx context.Context, key string, count int, highest bool) ([]ZMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := b.now()
	popped := []ZMember{}
	b.zsets.Compute(key, func(old *zsetEntry, loaded bool) (*zsetEntry, bool) {
		if !loaded || expired(old.expireAt, now) || count <= 0 {
			return old, !loaded || expired(old.expireAt, now)
		}
		ordered := old.sorted()
		if highest {
			ordered = reversed(ordered)
		}
		if count > len(ordered) {
			count = len(ordered)
		}
		popped = append(popped, ordered[:count]...)
		next := old.clone()
		for _, m := range popped {
			delete(next.scores, m.Member)
		}
		return next, len(next.scores) == 0
	})
	return popped, nil
}

// ZRange returns members by ascending score between the inclusive indexes
// start and stop. Negative indexes count from the end.
func (b *SturdycBackend) ZRange(ctx context.Context, key string, start, stop int) ([]ZMember, error) {
	return b.zrange(ctx, key, start, stop, false)
}

// ZRevRange is ZRange by descending score.
func (b *SturdycBackend) ZRevRange(ctx context.Context, key string, start, stop int) ([]ZMember, error) {
	return b.zrange(ctx, key, start, stop, true)
}

func (b *SturdycBackend) zrange(ctx context.Context, key string, start, stop int, desc bool) ([]ZMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	z, ok := b.zsets.Load(key)
	if !ok || expired(z.expireAt, b.now()) {
		return []ZMember{}, nil
	}
	ordered := z.sorted()
	if desc {
		ordered = reversed(ordered)
	}
	lo, hi, ok := rangeBounds(start, stop, len(ordered))
	if !ok {
		return []ZMember{}, nil
	}
	return slices.Clone(ordered[lo:hi]), nil
}
