package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/query"
)

// Scored is a value popped or ranged from a sorted set.
type Scored[D any] struct {
	Value D
	Score float64
}

// Hash and sorted set names get their own prefix inside the bucket so they
// never share a key with a cached entry or with each other.
const (
	hashPrefix      = "h:"
	sortedSetPrefix = "z:"
)

// HashKey returns the cache key of the hash named hash.
func (c *CachedRepository[D]) HashKey(ctx context.Context, hash string) string {
	return c.Key(ctx, hashPrefix+hash)
}

// SortedSetKey returns the cache key of the sorted set named key.
func (c *CachedRepository[D]) SortedSetKey(ctx context.Context, key string) string {
	return c.Key(ctx, sortedSetPrefix+key)
}

// ----- hashes

// HSet stores value under field of hash. A positive ttl sets the hash expiry.
func (c *CachedRepository[D]) HSet(ctx context.Context, hash, field string, value D, ttl time.Duration) error {
	data, err := c.codec.Marshal(value)
	if err != nil {
		return err
	}
	return c.backend.HSet(ctx, c.HashKey(ctx, hash), map[string][]byte{field: data}, ttl)
}

// HMSet stores values[i] under fields[i] of hash.
func (c *CachedRepository[D]) HMSet(ctx context.Context, hash string, fields []string, values []D, ttl time.Duration) error {
	if len(fields) != len(values) {
		return query.Invalid("fields", "have %d entries but values have %d", len(fields), len(values))
	}
	m := make(map[string][]byte, len(fields))
	for i, f := range fields {
		data, err := c.codec.Marshal(values[i])
		if err != nil {
			return err
		}
		m[f] = data
	}
	return c.backend.HSet(ctx, c.HashKey(ctx, hash), m, ttl)
}

// HGet returns field of hash.
func (c *CachedRepository[D]) HGet(ctx context.Context, hash, field string) (D, bool, error) {
	var d D
	data, ok, err := c.backend.HGet(ctx, c.HashKey(ctx, hash), field)
	if err != nil || !ok {
		return d, false, err
	}
	if err := c.codec.Unmarshal(data, &d); err != nil {
		return d, false, err
	}
	return d, true, nil
}

// HMGet returns the present fields of hash.
func (c *CachedRepository[D]) HMGet(ctx context.Context, hash string, fields []string) (map[string]D, error) {
	raw, err := c.backend.HMGet(ctx, c.HashKey(ctx, hash), fields)
	if err != nil {
		return nil, err
	}
	return c.decodeMap(raw)
}

// HGetAll returns every field of hash.
func (c *CachedRepository[D]) HGetAll(ctx context.Context, hash string) (map[string]D, error) {
	raw, err := c.backend.HGetAll(ctx, c.HashKey(ctx, hash))
	if err != nil {
		return nil, err
	}
	return c.decodeMap(raw)
}

// HDel removes fields from hash and reports how many existed.
func (c *CachedRepository[D]) HDel(ctx context.Context, hash string, fields ...string) (int, error) {
	return c.backend.HDel(ctx, c.HashKey(ctx, hash), fields...)
}

// HKeys lists the fields of hash.
func (c *CachedRepository[D]) HKeys(ctx context.Context, hash string) ([]string, error) {
	return c.backend.HKeys(ctx, c.HashKey(ctx, hash))
}

func (c *CachedRepository[D]) decodeMap(raw map[string][]byte) (map[string]D, error) {
	out := make(map[string]D, len(raw))
	for f, data := range raw {
		var d D
		if err := c.codec.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		out[f] = d
	}
	return out, nil
}

// ----- sorted sets

// ZAdd adds values[i] with scores[i] to the sorted set key.
func (c *CachedRepository[D]) ZAdd(ctx context.Context, key string, values []D, scores []float64, ttl time.Duration) error {
	if len(values) != len(scores) {
		return query.Invalid("scores", "have %d entries but values have %d", len(scores), len(values))
	}
	members := make([]cache.ZMember, len(values))
	for i, v := range values {
		data, err := c.codec.Marshal(v)
		if err != nil {
			return err
		}
		members[i] = cache.ZMember{Member: string(data), Score: scores[i]}
	}
	return c.backend.ZAdd(ctx, c.SortedSetKey(ctx, key), members, ttl)
}

// ZPopMin removes and returns up to count lowest scored values.
func (c *CachedRepository[D]) ZPopMin(ctx context.Context, key string, count int) ([]Scored[D], error) {
	members, err := c.backend.ZPopMin(ctx, c.SortedSetKey(ctx, key), count)
	if err != nil {
		return nil, err
	}
	return c.decodeScored(members)
}

// ZPopMax removes and returns up to count highest scored values.
func (c *CachedRepository[D]) ZPopMax(ctx context.Context, key string, count int) ([]Scored[D], error) {
	members, err := c.backend.ZPopMax(ctx, c.SortedSetKey(ctx, key), count)
	if err != nil {
		return nil, err
	}
	return c.decodeScored(members)
}

// ZRange returns values ranked start..stop by ascending score. Negative
// indexes count from the end.
func (c *CachedRepository[D]) ZRange(ctx context.Context, key string, start, stop int) ([]D, error) {
	members, err := c.backend.ZRange(ctx, c.SortedSetKey(ctx, key), start, stop)
	if err != nil {
		return nil, err
	}
	return c.decodeValues(members)
}

// ZRevRange returns values ranked start..stop by descending score.
func (c *CachedRepository[D]) ZRevRange(ctx context.Context, key string, start, stop int) ([]D, error) {
	members, err := c.backend.ZRevRange(ctx, c.SortedSetKey(ctx, key), start, stop)
	if err != nil {
		return nil, err
	}
	return c.decodeValues(members)
}

func (c *CachedRepository[D]) decodeScored(members []cache.ZMember) ([]Scored[D], error) {
	out := make([]Scored[D], len(members))
	for i, m := range members {
		if err := c.codec.Unmarshal([]byte(m.Member), &out[i].Value); err != nil {
			return nil, err
		}
		out[i].Score = m.Score
	}
	return out, nil
}

func (c *CachedRepository[D]) decodeValues(members []cache.ZMember) ([]D, error) {
	out := make([]D, len(members))
	for i, m := range members {
		if err := c.codec.Unmarshal([]byte(m.Member), &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ----- expiry

// Expire sets the expiry of the cached entry of id relative to now.
func (c *CachedRepository[D]) Expire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	return c.backend.Expire(ctx, c.Key(ctx, id), ttl)
}

// ExpireAt sets the expiry of the cached entry of id to an absolute instant.
func (c *CachedRepository[D]) ExpireAt(ctx context.Context, id string, at time.Time) (bool, error) {
	return c.backend.ExpireAt(ctx, c.Key(ctx, id), at)
}

// HExpire sets the expiry of hash relative to now.
func (c *CachedRepository[D]) HExpire(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	return c.backend.Expire(ctx, c.HashKey(ctx, hash), ttl)
}

// ZExpire sets the expiry of the sorted set key relative to now.
func (c *CachedRepository[D]) ZExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.backend.Expire(ctx, c.SortedSetKey(ctx, key), ttl)
}
