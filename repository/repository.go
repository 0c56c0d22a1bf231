package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/jinzhu/inflection"

	"github.com/goliatone/go-repository-core/pkg/clock"
	"github.com/goliatone/go-repository-core/pkg/logging"
	"github.com/goliatone/go-repository-core/pkg/metrics"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

// Metadata describes the entity a Repository manages. It is supplied
// explicitly; nothing is inferred from the Go type.
type Metadata struct {
	// Name is the entity name, also the default outbox aggregate type and
	// cache bucket.
	Name string
	// Collection overrides the table or collection name. Defaults to the
	// pluralised snake_case Name.
	Collection string
	// TenantIndependent disables tenant scoping for reads.
	TenantIndependent bool
	// SortableFields extends the default sort allow-list.
	SortableFields []string
}

// Validate checks the metadata.
func (m Metadata) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Name, validation.Required),
	)
}

// CollectionName resolves the storage collection name.
func (m Metadata) CollectionName() string {
	if m.Collection != "" {
		return m.Collection
	}
	return inflection.Plural(toSnake(m.Name))
}

// IDGenerator produces ids for records created without one.
type IDGenerator func() string

// NewUUIDv7 returns a time ordered UUID, falling back to a random one.
func NewUUIDv7() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	clock   clock.Clock
	newID   IDGenerator
	logger  logging.Logger
	metrics metrics.Metrics
}

// WithClock sets the clock used for bookkeeping timestamps.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithIDGenerator sets the id generator.
func WithIDGenerator(g IDGenerator) Option { return func(o *options) { o.newID = g } }

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// Repository is a tenant scoped, soft deleting, versioned store of domain
// values of type D over any storage.Backend.
//
// Not found is a normal outcome: lookups return (zero, false, nil) when the
// id is absent, belongs to another tenant, or is soft deleted.
type Repository[D any] struct {
	backend storage.Backend
	mapper  record.Mapper[D]
	meta    Metadata
	coll    string
	aug     *query.Augmenter
	newID   IDGenerator
	logger  logging.Logger
	metrics metrics.Metrics
}

// New builds a Repository.
func New[D any](backend storage.Backend, mapper record.Mapper[D], meta Metadata, opts ...Option) (*Repository[D], error) {
	if backend == nil {
		return nil, errors.New("repository: backend is required")
	}
	if mapper == nil {
		return nil, errors.New("repository: mapper is required")
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("repository: invalid metadata: %w", err)
	}

	o := options{clock: clock.System{}, newID: NewUUIDv7}
	for _, opt := range opts {
		opt(&o)
	}

	return &Repository[D]{
		backend: backend,
		mapper:  mapper,
		meta:    meta,
		coll:    meta.CollectionName(),
		aug:     query.NewAugmenter(meta.TenantIndependent, meta.SortableFields, o.clock),
		newID:   o.newID,
		logger:  logging.OrNop(o.logger),
		metrics: metrics.OrNop(o.metrics),
	}, nil
}

// Metadata returns the entity metadata.
func (r *Repository[D]) Metadata() Metadata { return r.meta }

// Collection returns the storage collection name.
func (r *Repository[D]) Collection() string { return r.coll }

// Backend returns the storage backend.
func (r *Repository[D]) Backend() storage.Backend { return r.backend }

// Augmenter returns the clause builder bound to this collection.
func (r *Repository[D]) Augmenter() *query.Augmenter { return r.aug }

// ToDomain maps a record to its domain value.
func (r *Repository[D]) ToDomain(rec record.Record) (D, error) {
	return r.mapper.FromRecord(rec)
}

// ToRecord maps a domain value to its record.
func (r *Repository[D]) ToRecord(d D) (record.Record, error) {
	return r.mapper.ToRecord(d)
}

func (r *Repository[D]) toDomains(recs []record.Record) ([]D, error) {
	out := make([]D, 0, len(recs))
	for _, rec := range recs {
		d, err := r.mapper.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Repository[D]) observe(op string, found bool, err error) {
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		r.logger.Warn("repository operation failed", "collection", r.coll, "op", op, "error", err)
	case !found:
		outcome = "not_found"
	}
	r.metrics.RepositoryOperation(r.coll, op, outcome)
}

func (r *Repository[D]) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("repository %s: %s: %w", r.coll, op, err)
}

// inSession runs fn in a fresh session, committing on success. Any error or
// panic aborts it.
func (r *Repository[D]) inSession(ctx context.Context, fn func(sess storage.Session) error) (err error) {
	sess, err := r.backend.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sess.Abort(ctx)
			panic(p)
		}
		if err != nil {
			if abortErr := sess.Abort(ctx); abortErr != nil {
				err = errors.Join(err, abortErr)
			}
		}
	}()

	if err = fn(sess); err != nil {
		return err
	}
	return sess.Commit(ctx)
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) && runes[i-1] != '_' {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
