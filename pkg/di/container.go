package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/lock"
	"github.com/goliatone/go-repository-core/outbox"
	"github.com/goliatone/go-repository-core/pkg/clock"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/repository"
	"github.com/goliatone/go-repository-core/repositorycache"
	"github.com/goliatone/go-repository-core/storage"
	"github.com/goliatone/go-repository-core/storage/bunstore"
	"github.com/goliatone/go-repository-core/storage/memstore"
)

// Option configures a Container.
type Option func(*Container)

// WithLogger sets the logger handed to every component.
func WithLogger(l logging.Logger) Option { return func(c *Container) { c.logger = l } }

// WithMetrics sets the metrics sink handed to every component.
func WithMetrics(m metrics.Metrics) Option { return func(c *Container) { c.metrics = m } }

// WithClock sets the clock handed to every component.
func WithClock(clk clock.Clock) Option { return func(c *Container) { c.clock = clk } }

// Container builds the storage and cache backends once and hands them to the
// repositories, coordinators and cached repositories created from it.
type Container struct {
	cfg     Config
	logger  logging.Logger
	metrics metrics.Metrics
	clock   clock.Clock

	db      *bun.DB
	storage storage.Backend
	cache   cache.Backend
	keys    cache.KeySerializer
	locks   *lock.Factory
}

// NewContainer validates cfg and builds the backends it selects.
func NewContainer(ctx context.Context, cfg Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("di: invalid config: %w", err)
	}

	c := &Container{cfg: cfg, clock: clock.System{}}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	c.metrics = metrics.OrNop(c.metrics)

	switch cfg.Storage.Kind {
	case StorageSQL:
		db, err := bunstore.Open(ctx, bunstore.Config{
			Driver:       cfg.Storage.Driver,
			DSN:          cfg.Storage.DSN,
			MaxOpenConns: cfg.Storage.MaxOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("di: open storage: %w", err)
		}
		c.db = db
		c.storage = bunstore.New(db, bunstore.WithOutboxTable(c.outboxTable()))
	default:
		c.storage = memstore.New()
	}

	backend, err := cache.NewBackend(cfg.Cache, cache.WithClock(c.clock))
	if err != nil {
		_ = c.storage.Close()
		return nil, fmt.Errorf("di: cache backend: %w", err)
	}
	c.cache = backend
	c.keys = cache.NewDefaultKeySerializer()

	locks, err := lock.NewFactory(backend, lock.WithLogger(c.logger))
	if err != nil {
		_ = c.storage.Close()
		return nil, fmt.Errorf("di: lock factory: %w", err)
	}
	c.locks = locks

	c.logger.Info("container ready",
		"storage", c.storage.Name(),
		"app", cfg.App.Name,
		"env", cfg.App.Env,
	)
	return c, nil
}

// NewContainerWithDefaults builds an in-memory container.
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, DefaultConfig(), opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() Config { return c.cfg }

// Storage returns the storage backend.
func (c *Container) Storage() storage.Backend { return c.storage }

// DB returns the SQL handle, or nil for in-memory storage.
func (c *Container) DB() *bun.DB { return c.db }

// Cache returns the cache backend.
func (c *Container) Cache() cache.Backend { return c.cache }

// KeySerializer returns the shared key serializer.
func (c *Container) KeySerializer() cache.KeySerializer { return c.keys }

// Locks returns the lock factory.
func (c *Container) Locks() *lock.Factory { return c.locks }

// Logger returns the shared logger.
func (c *Container) Logger() logging.Logger { return c.logger }

// Metrics returns the shared metrics sink.
func (c *Container) Metrics() metrics.Metrics { return c.metrics }

// Migrate creates the tables of collections and the outbox table when
// Storage.AutoMigrate is set on a SQL container. It does nothing otherwise.
func (c *Container) Migrate(ctx context.Context, collections ...string) error {
	if c.db == nil || !c.cfg.Storage.AutoMigrate {
		return nil
	}
	return bunstore.CreateSchema(ctx, c.db, c.outboxTable(), collections...)
}

// Close releases the storage backend.
func (c *Container) Close() error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Close()
}

func (c *Container) outboxTable() string {
	if c.cfg.Storage.OutboxTable == "" {
		return bunstore.DefaultOutboxTable
	}
	return c.cfg.Storage.OutboxTable
}

// NewRepository creates a repository over the container's storage using a
// JSON mapper. Options passed here override the container defaults.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewRepository[User](container, repository.Metadata{Name: "User"})
func NewRepository[D any](c *Container, meta repository.Metadata, opts ...repository.Option) (*repository.Repository[D], error) {
	if c == nil {
		return nil, errors.New("di: container is nil")
	}
	base := []repository.Option{
		repository.WithClock(c.clock),
		repository.WithLogger(c.logger),
		repository.WithMetrics(c.metrics),
	}
	return repository.New[D](c.storage, record.JSONMapper[D]{}, meta, append(base, opts...)...)
}

// NewCoordinator creates an outbox coordinator for repo using the outbox
// section of the config. A nil serializer selects JSON.
func NewCoordinator[D any](c *Container, repo *repository.Repository[D], serializer outbox.Serializer, opts ...outbox.Option[D]) (*outbox.Coordinator[D], error) {
	if c == nil {
		return nil, errors.New("di: container is nil")
	}
	if serializer == nil {
		serializer = outbox.JSONSerializer{}
	}
	base := []outbox.Option[D]{
		outbox.WithClock[D](c.clock),
		outbox.WithLogger[D](c.logger),
		outbox.WithMetrics[D](c.metrics),
	}
	return outbox.New(repo, c.storage, serializer, c.cfg.Outbox, append(base, opts...)...)
}

// NewCachedRepository wraps repo with the container's cache backend, using
// the configured default TTL and invalidation retries.
func NewCachedRepository[D any](c *Container, repo *repository.Repository[D], opts ...repositorycache.Option) (*repositorycache.CachedRepository[D], error) {
	if c == nil {
		return nil, errors.New("di: container is nil")
	}
	base := []repositorycache.Option{
		repositorycache.WithTTL(c.cfg.Cache.DefaultTTL),
		repositorycache.WithRetries(c.cfg.Cache.InvalidateRetries),
		repositorycache.WithKeySerializer(c.keys),
		repositorycache.WithLogger(c.logger),
		repositorycache.WithMetrics(c.metrics),
	}
	return repositorycache.New(repo, c.cache, append(base, opts...)...)
}
