package repositorycache

import (
	"time"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
)

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	ttl     time.Duration
	retries int
	codec   cache.Codec
	keys    cache.KeySerializer
	bucket  string
	logger  logging.Logger
	metrics metrics.Metrics
}

func defaultOptions() options {
	return options{
		ttl:     cache.DefaultTTL,
		retries: cache.DefaultInvalidateRetries,
		codec:   cache.MsgpackCodec{},
	}
}

// WithTTL sets the expiry of values populated by cache-aside reads. Zero
// disables per entry expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithRetries sets how many times a failed invalidation is retried.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithCodec sets the value codec.
func WithCodec(c cache.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithKeySerializer sets the serializer used for key segments.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(o *options) { o.keys = s }
}

// WithBucket overrides the key bucket, which defaults to the repository
// metadata name.
func WithBucket(bucket string) Option {
	return func(o *options) { o.bucket = bucket }
}

// WithLogger sets the logger cache failures are reported to.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}
