package cache

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-core/internal/cacheinfra"
)

// ZMember is one scored member of a sorted set.
type ZMember = cacheinfra.ZMember

// Backend is a key value cache with strings, hashes and sorted sets. Keys
// are opaque; callers build them with a KeyBuilder. A ttl of zero means no
// per entry expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes the string at key only when it holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ExpireAt(ctx context.Context, key string, at time.Time) (bool, error)

	HSet(ctx context.Context, key string, fields map[string][]byte, ttl time.Duration) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HMGet(ctx context.Context, key string, fields []string) (map[string][]byte, error)
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) (int, error)
	HKeys(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, members []ZMember, ttl time.Duration) error
	ZPopMin(ctx context.Context, key string, count int) ([]ZMember, error)
	ZPopMax(ctx context.Context, key string, count int) ([]ZMember, error)
	ZRange(ctx context.Context, key string, start, stop int) ([]ZMember, error)
	ZRevRange(ctx context.Context, key string, start, stop int) ([]ZMember, error)
}

var _ Backend = (*cacheinfra.SturdycBackend)(nil)
