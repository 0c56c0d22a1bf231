package cache

import (
	"time"

	"github.com/goliatone/go-repository-core/internal/cacheinfra"
	"github.com/goliatone/go-repository-core/pkg/clock"
)

const (
	// DefaultTTL is the expiry of values populated by cache-aside reads.
	DefaultTTL = 3600000 * time.Millisecond
	// DefaultInvalidateRetries is how many times a failed invalidation is
	// retried before it is logged and dropped.
	DefaultInvalidateRetries = 3
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Capacity           int           `mapstructure:"capacity"`
	NumShards          int           `mapstructure:"num_shards"`
	MaxTTL             time.Duration `mapstructure:"max_ttl"`
	EvictionPercentage int           `mapstructure:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval"`

	// DefaultTTL applies to cache-aside population.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	// InvalidateRetries bounds retries after a failed invalidation.
	InvalidateRetries int `mapstructure:"invalidate_retries"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.DefaultTTL = DefaultTTL
	cfg.InvalidateRetries = DefaultInvalidateRetries
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if err := c.toInternal().Validate(); err != nil {
		return err
	}
	if c.DefaultTTL < 0 {
		return &cacheinfra.ConfigError{Field: "DefaultTTL", Message: "must be non-negative"}
	}
	if c.InvalidateRetries < 0 {
		return &cacheinfra.ConfigError{Field: "InvalidateRetries", Message: "must be non-negative"}
	}
	return nil
}

// BackendOption configures the default backend.
type BackendOption = cacheinfra.Option

// WithClock sets the clock the default backend uses for expiry.
func WithClock(c clock.Clock) BackendOption {
	return cacheinfra.WithClock(c)
}

// NewBackend constructs the default in-process backend.
func NewBackend(cfg Config, opts ...BackendOption) (Backend, error) {
	return cacheinfra.NewSturdycBackend(cfg.toInternal(), opts...)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.MaxTTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		MaxTTL:             cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
