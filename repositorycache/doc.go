// Package repositorycache adds a cache-aside layer in front of a
// repository.Repository.
//
// # Overview
//
// CachedRepository wraps a repository and a cache.Backend. Reads go to the
// cache first and fall back to the repository; mutations go to the
// repository and drop the affected cache entries after they succeed.
//
// # Keys
//
// Entries are keyed {tenant}__{bucket}__{id}. The bucket defaults to the
// repository metadata name and the tenant comes from the ambient context.
// Tenant independent repositories drop the tenant segment:
//
//	t1__Note__0190f0c2-...   tenant scoped
//	Setting__theme           tenant independent
//
// # Basic Usage
//
//	backend, _ := cache.NewBackend(cache.DefaultConfig())
//	cached, _ := repositorycache.New(notes, backend,
//		repositorycache.WithTTL(10*time.Minute),
//		repositorycache.WithLogger(logger),
//	)
//
//	note, found, err := cached.GetThroughCache(ctx, id)
//	notes, err := cached.GetManyThroughCache(ctx, ids)
//
//	_, _, err = cached.PatchThroughCache(ctx, id, Note{Title: "new"})
//
// # Invalidation
//
// The *ThroughCache mutations invalidate for you. Mutations that run
// elsewhere, such as outbox coordinator calls, are wrapped with
// InvalidateAfter so invalidation follows the commit:
//
//	err := cached.InvalidateAfter(ctx, []string{id}, func(ctx context.Context) error {
//		_, _, err := coordinator.PatchWithOutbox(ctx, id, partial, "Note", record.EventUpdate)
//		return err
//	})
//
// A failed invalidation is retried (WithRetries, default 3). After that it
// is logged and counted by cache_invalidation_failures_total, never
// returned.
//
// # Failure Handling
//
// The cache is an optimisation. Backend or codec failures during reads and
// population are logged at warn level and counted as cache_requests_total
// {result="error"}; the call continues against the repository.
//
// # Secondary Structures
//
// Hashes (HSet, HMSet, HGet, HMGet, HGetAll, HDel, HKeys) and sorted sets
// (ZAdd, ZPopMin, ZPopMax, ZRange, ZRevRange) store encoded domain values
// in the same bucket, with the name prefixed by "h:" or "z:":
//
//	t1__Note__h:board
//	t1__Note__z:ranking
//
// Invalidate never touches them. HExpire and ZExpire set their expiry;
// Expire and ExpireAt address cached entries. These calls return backend
// errors to the caller.
//
// # Refresh
//
// WithRefresh(ctx) makes reads skip the lookup, load from the repository and
// repopulate the entry.
package repositorycache
