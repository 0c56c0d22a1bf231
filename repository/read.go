package repository

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

// ReadOption tunes a read.
type ReadOption func(*readOptions)

type readOptions struct {
	includeDeleted bool
}

// IncludeDeleted makes a read see soft deleted records.
func IncludeDeleted() ReadOption {
	return func(o *readOptions) { o.includeDeleted = true }
}

func resolveRead(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Get returns the live record with id in the ambient tenant.
func (r *Repository[D]) Get(ctx context.Context, id string) (D, bool, error) {
	return r.get(ctx, r.backend, id, false)
}

// GetIncludingDeleted is Get without the soft delete clause.
func (r *Repository[D]) GetIncludingDeleted(ctx context.Context, id string) (D, bool, error) {
	return r.get(ctx, r.backend, id, true)
}

// GetTx is Get inside a session.
func (r *Repository[D]) GetTx(ctx context.Context, sess storage.Session, id string) (D, bool, error) {
	return r.get(ctx, r.exec(sess), id, false)
}

func (r *Repository[D]) get(ctx context.Context, ex storage.Executor, id string, includeDeleted bool) (D, bool, error) {
	var zero D
	rec, found, err := r.getRecord(ctx, ex, id, includeDeleted)
	r.observe("get", found, err)
	if err != nil || !found {
		return zero, false, err
	}
	d, err := r.mapper.FromRecord(rec)
	if err != nil {
		return zero, false, r.wrap("get", err)
	}
	return d, true, nil
}

func (r *Repository[D]) getRecord(ctx context.Context, ex storage.Executor, id string, includeDeleted bool) (record.Record, bool, error) {
	if id == "" {
		return record.Record{}, false, query.Invalid(record.FieldID, "id is required")
	}
	f, err := r.aug.ReadFilter(ctx, query.ByID(id), includeDeleted)
	if err != nil {
		return record.Record{}, false, err
	}
	rec, found, err := ex.FindOne(ctx, r.coll, f)
	return rec, found, r.wrap("get", err)
}

// GetByIDs returns the live records among ids, ordered by sort tokens.
// Missing ids are skipped.
func (r *Repository[D]) GetByIDs(ctx context.Context, ids []string, sort []string) ([]D, error) {
	return r.getByIDs(ctx, r.backend, ids, sort)
}

// GetByIDsTx is GetByIDs inside a session.
func (r *Repository[D]) GetByIDsTx(ctx context.Context, sess storage.Session, ids []string, sort []string) ([]D, error) {
	return r.getByIDs(ctx, r.exec(sess), ids, sort)
}

func (r *Repository[D]) getByIDs(ctx context.Context, ex storage.Executor, ids []string, sort []string) ([]D, error) {
	if len(ids) == 0 {
		return []D{}, nil
	}
	recs, err := r.find(ctx, ex, query.Where(query.In(record.FieldID, ids...)), query.Page{Sort: sort}, false)
	r.observe("get_by_ids", true, err)
	if err != nil {
		return nil, err
	}
	return r.toDomains(recs)
}

// Find returns the records matching f, scoped and paged.
func (r *Repository[D]) Find(ctx context.Context, f query.Filter, page query.Page, opts ...ReadOption) ([]D, error) {
	o := resolveRead(opts)
	recs, err := r.find(ctx, r.backend, f, page, o.includeDeleted)
	r.observe("find", true, err)
	if err != nil {
		return nil, err
	}
	return r.toDomains(recs)
}

// FindOne returns the first record matching f.
func (r *Repository[D]) FindOne(ctx context.Context, f query.Filter, opts ...ReadOption) (D, bool, error) {
	var zero D
	o := resolveRead(opts)
	scoped, err := r.aug.ReadFilter(ctx, f, o.includeDeleted)
	if err != nil {
		return zero, false, err
	}
	rec, found, err := r.backend.FindOne(ctx, r.coll, scoped)
	r.observe("find_one", found, err)
	if err != nil || !found {
		return zero, false, r.wrap("find_one", err)
	}
	d, err := r.mapper.FromRecord(rec)
	return d, err == nil, err
}

// Count counts the records matching f.
func (r *Repository[D]) Count(ctx context.Context, f query.Filter, opts ...ReadOption) (int64, error) {
	o := resolveRead(opts)
	scoped, err := r.aug.ReadFilter(ctx, f, o.includeDeleted)
	if err != nil {
		return 0, err
	}
	n, err := r.backend.Count(ctx, r.coll, scoped)
	r.observe("count", true, err)
	return n, r.wrap("count", err)
}

// FindByPage returns one page of live records.
func (r *Repository[D]) FindByPage(ctx context.Context, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Filter{}, page)
}

// FindByCreatedAtGreaterThan returns records created strictly after t.
func (r *Repository[D]) FindByCreatedAtGreaterThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Gt(record.FieldCreatedAt, t)), page)
}

// FindByCreatedAtLessThan returns records created strictly before t.
func (r *Repository[D]) FindByCreatedAtLessThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Lt(record.FieldCreatedAt, t)), page)
}

// FindByCreatedAtBetween returns records created in [from, to].
func (r *Repository[D]) FindByCreatedAtBetween(ctx context.Context, from, to time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Between(record.FieldCreatedAt, from, to)...), page)
}

// FindByLastModifiedAtGreaterThan returns records modified strictly after t.
func (r *Repository[D]) FindByLastModifiedAtGreaterThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Gt(record.FieldLastModifiedAt, t)), page)
}

// FindByLastModifiedAtLessThan returns records modified strictly before t.
func (r *Repository[D]) FindByLastModifiedAtLessThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Lt(record.FieldLastModifiedAt, t)), page)
}

// FindByLastModifiedAtBetween returns records modified in [from, to].
func (r *Repository[D]) FindByLastModifiedAtBetween(ctx context.Context, from, to time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Between(record.FieldLastModifiedAt, from, to)...), page)
}

// FindByDeletedAtGreaterThan returns records soft deleted strictly after t.
// Deleted records are included implicitly.
func (r *Repository[D]) FindByDeletedAtGreaterThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Gt(record.FieldDeletedAt, t)), page, IncludeDeleted())
}

// FindByDeletedAtLessThan returns records soft deleted strictly before t.
func (r *Repository[D]) FindByDeletedAtLessThan(ctx context.Context, t time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Lt(record.FieldDeletedAt, t)), page, IncludeDeleted())
}

// FindByDeletedAtBetween returns records soft deleted in [from, to].
func (r *Repository[D]) FindByDeletedAtBetween(ctx context.Context, from, to time.Time, page query.Page) ([]D, error) {
	return r.Find(ctx, query.Where(query.Between(record.FieldDeletedAt, from, to)...), page, IncludeDeleted())
}

func (r *Repository[D]) find(ctx context.Context, ex storage.Executor, f query.Filter, page query.Page, includeDeleted bool) ([]record.Record, error) {
	scoped, err := r.aug.ReadFilter(ctx, f, includeDeleted)
	if err != nil {
		return nil, err
	}
	opts, err := r.aug.FindOptions(page)
	if err != nil {
		return nil, err
	}
	recs, err := ex.Find(ctx, r.coll, scoped, opts)
	return recs, r.wrap("find", err)
}
