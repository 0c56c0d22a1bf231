package repositorycache

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/repository"
)

// CachedRepository adds a cache-aside layer in front of a repository.
//
// Reads consult the cache first and populate it on a miss. Mutations go to the
// repository and invalidate the affected keys only after they succeed. Cache
// failures never fail a repository call: they are logged, counted and
// swallowed.
type CachedRepository[D any] struct {
	repo    *repository.Repository[D]
	backend cache.Backend
	codec   cache.Codec
	keys    cache.KeyBuilder
	bucket  string
	ttl     time.Duration
	retries int
	logger  logging.Logger
	metrics metrics.Metrics
}

// New wraps repo with a cache-aside layer over backend.
func New[D any](repo *repository.Repository[D], backend cache.Backend, opts ...Option) (*CachedRepository[D], error) {
	if repo == nil {
		return nil, errors.New("repositorycache: repository is required")
	}
	if backend == nil {
		return nil, errors.New("repositorycache: cache backend is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.bucket == "" {
		o.bucket = repo.Metadata().Name
	}
	if o.codec == nil {
		o.codec = cache.MsgpackCodec{}
	}
	if o.retries < 0 {
		o.retries = 0
	}

	return &CachedRepository[D]{
		repo:    repo,
		backend: backend,
		codec:   o.codec,
		keys:    cache.NewKeyBuilder(o.keys),
		bucket:  o.bucket,
		ttl:     o.ttl,
		retries: o.retries,
		logger:  logging.OrNop(o.logger),
		metrics: metrics.OrNop(o.metrics),
	}, nil
}

// Repository returns the wrapped repository.
func (c *CachedRepository[D]) Repository() *repository.Repository[D] { return c.repo }

// Backend returns the cache backend.
func (c *CachedRepository[D]) Backend() cache.Backend { return c.backend }

// Bucket returns the key bucket.
func (c *CachedRepository[D]) Bucket() string { return c.bucket }

// Key returns the cache key of id for the tenant in ctx.
func (c *CachedRepository[D]) Key(ctx context.Context, id string) string {
	return c.keys.Key(c.tenant(ctx), c.bucket, id)
}

func (c *CachedRepository[D]) tenant(ctx context.Context) string {
	if c.repo.Metadata().TenantIndependent {
		return ""
	}
	return ambient.From(ctx).TenantID
}

// GetThroughCache returns the live value of id, reading the cache first. On a
// miss the value is loaded from the repository and cached when found.
func (c *CachedRepository[D]) GetThroughCache(ctx context.Context, id string) (D, bool, error) {
	var zero D
	if id == "" {
		return zero, false, query.Invalid("id", "must not be empty")
	}
	key := c.Key(ctx, id)

	if !refreshFromContext(ctx) {
		if d, ok := c.lookup(ctx, key); ok {
			c.metrics.CacheRequest(c.bucket, metrics.CacheHit, 1)
			return d, true, nil
		}
	}
	c.metrics.CacheRequest(c.bucket, metrics.CacheMiss, 1)

	d, found, err := c.repo.Get(ctx, id)
	if err != nil || !found {
		return d, found, err
	}
	c.populate(ctx, key, d)
	return d, true, nil
}

// GetManyThroughCache returns the live values of ids. Hits come from the
// cache; misses are loaded in one repository call and cached. The result
// carries no ordering guarantee.
func (c *CachedRepository[D]) GetManyThroughCache(ctx context.Context, ids []string) ([]D, error) {
	if len(ids) == 0 {
		return []D{}, nil
	}
	for i, id := range ids {
		if id == "" {
			return nil, query.Invalid("ids", "item %d is empty", i)
		}
	}
	ids = dedupe(ids)
	keys := c.keys.Keys(c.tenant(ctx), c.bucket, ids)

	var cached map[string][]byte
	if !refreshFromContext(ctx) {
		var err error
		cached, err = c.backend.MGet(ctx, keys)
		if err != nil {
			c.cacheFailure("mget", err)
			cached = nil
		}
	}

	out := make([]D, 0, len(ids))
	var misses []string
	for i, id := range ids {
		data, ok := cached[keys[i]]
		if !ok {
			misses = append(misses, id)
			continue
		}
		var d D
		if err := c.codec.Unmarshal(data, &d); err != nil {
			c.cacheFailure("decode", err, "key", keys[i])
			misses = append(misses, id)
			continue
		}
		out = append(out, d)
	}
	if hits := len(out); hits > 0 {
		c.metrics.CacheRequest(c.bucket, metrics.CacheHit, hits)
	}
	if len(misses) == 0 {
		return out, nil
	}
	c.metrics.CacheRequest(c.bucket, metrics.CacheMiss, len(misses))

	loaded, err := c.repo.GetByIDs(ctx, misses, nil)
	if err != nil {
		return nil, err
	}
	for _, d := range loaded {
		id, err := c.idOf(d)
		if err != nil {
			c.cacheFailure("key", err)
			continue
		}
		c.populate(ctx, c.Key(ctx, id), d)
	}
	return append(out, loaded...), nil
}

// PatchThroughCache patches id and invalidates its cache entry.
func (c *CachedRepository[D]) PatchThroughCache(ctx context.Context, id string, partial D) (D, bool, error) {
	d, found, err := c.repo.Patch(ctx, id, partial)
	if err == nil && found {
		c.Invalidate(ctx, id)
	}
	return d, found, err
}

// PutThroughCache replaces id and invalidates its cache entry.
func (c *CachedRepository[D]) PutThroughCache(ctx context.Context, id string, d D) (D, bool, error) {
	out, found, err := c.repo.Put(ctx, id, d)
	if err == nil && found {
		c.Invalidate(ctx, id)
	}
	return out, found, err
}

// DeleteThroughCache soft deletes d and invalidates its cache entry.
func (c *CachedRepository[D]) DeleteThroughCache(ctx context.Context, d D) (D, bool, error) {
	out, found, err := c.repo.Delete(ctx, d)
	if err == nil && found {
		if id, idErr := c.idOf(out); idErr == nil {
			c.Invalidate(ctx, id)
		}
	}
	return out, found, err
}

// UpsertThroughCache upserts d matched by filter and invalidates the
// resulting entry.
func (c *CachedRepository[D]) UpsertThroughCache(ctx context.Context, d D, filter D) (D, error) {
	out, err := c.repo.Upsert(ctx, d, filter)
	if err == nil {
		if id, idErr := c.idOf(out); idErr == nil {
			c.Invalidate(ctx, id)
		}
	}
	return out, err
}

// InvalidateAfter runs fn and, only if it succeeds, invalidates ids. Use it
// around mutations the cache does not see directly, such as outbox
// coordinator calls, so invalidation follows the commit.
func (c *CachedRepository[D]) InvalidateAfter(ctx context.Context, ids []string, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	c.Invalidate(ctx, ids...)
	return nil
}

// Invalidate drops the cache entries of ids. A failed delete is retried; once
// retries run out the failure is logged and counted, never returned.
func (c *CachedRepository[D]) Invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	keys := c.keys.Keys(c.tenant(ctx), c.bucket, ids)

	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err = c.backend.Delete(ctx, keys...); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	c.logger.Error("cache invalidation failed",
		"bucket", c.bucket,
		"keys", keys,
		"attempts", c.retries+1,
		"error", err,
	)
	c.metrics.CacheInvalidationFailure(c.bucket)
}

func (c *CachedRepository[D]) lookup(ctx context.Context, key string) (D, bool) {
	var d D
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.cacheFailure("get", err, "key", key)
		return d, false
	}
	if !ok {
		return d, false
	}
	if err := c.codec.Unmarshal(data, &d); err != nil {
		c.cacheFailure("decode", err, "key", key)
		var zero D
		return zero, false
	}
	return d, true
}

func (c *CachedRepository[D]) populate(ctx context.Context, key string, d D) {
	data, err := c.codec.Marshal(d)
	if err != nil {
		c.cacheFailure("encode", err, "key", key)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.cacheFailure("set", err, "key", key)
	}
}

func (c *CachedRepository[D]) cacheFailure(op string, err error, args ...any) {
	c.metrics.CacheRequest(c.bucket, metrics.CacheError, 1)
	c.logger.Warn("cache "+op+" failed", append([]any{"bucket", c.bucket, "error", err}, args...)...)
}

func (c *CachedRepository[D]) idOf(d D) (string, error) {
	rec, err := c.repo.ToRecord(d)
	if err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", errors.New("repositorycache: value has no id")
	}
	return rec.ID, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
