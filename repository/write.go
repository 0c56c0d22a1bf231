package repository

import (
	"context"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

// Create stamps bookkeeping fields on d and inserts it. A caller supplied
// id is kept; otherwise one is generated.
func (r *Repository[D]) Create(ctx context.Context, d D) (D, error) {
	rec, err := r.CreateTx(ctx, nil, d)
	if err != nil {
		var zero D
		return zero, err
	}
	return r.mapper.FromRecord(rec)
}

// CreateTx is Create inside a session and returns the stored record. A nil
// session runs the write in auto commit mode.
func (r *Repository[D]) CreateTx(ctx context.Context, sess storage.Session, d D) (record.Record, error) {
	rec, err := r.prepareCreate(ctx, d)
	if err == nil {
		err = r.wrap("create", r.exec(sess).Insert(ctx, r.coll, rec))
	}
	r.observe("create", true, err)
	if err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

func (r *Repository[D]) prepareCreate(ctx context.Context, d D) (record.Record, error) {
	rec, err := r.mapper.ToRecord(d)
	if err != nil {
		return record.Record{}, err
	}
	tenant, err := r.aug.Tenant(ctx)
	if err != nil {
		return record.Record{}, err
	}
	amb := ambient.From(ctx)
	now := r.aug.Now()

	if rec.ID == "" {
		rec.ID = r.newID()
	}
	rec.TenantID = tenant
	rec.IsTestData = amb.IsTestData
	rec.CreatedAt = now
	rec.LastModifiedAt = now
	rec.DeletedAt = nil
	rec.Version = 1
	rec.CreatedBy = amb.Caller()
	return rec, nil
}

// Patch merges the non-empty fields of partial into the live record with id.
// It reports false when no such record exists.
func (r *Repository[D]) Patch(ctx context.Context, id string, partial D) (D, bool, error) {
	rec, found, err := r.PatchTx(ctx, nil, id, partial)
	return r.domainResult(rec, found, err)
}

// PatchTx is Patch inside a session.
func (r *Repository[D]) PatchTx(ctx context.Context, sess storage.Session, id string, partial D) (record.Record, bool, error) {
	rec, err := r.mapper.ToRecord(partial)
	if err != nil {
		return record.Record{}, false, err
	}
	out, found, err := r.patchRecord(ctx, r.exec(sess), id, query.SetFields(rec.Attributes))
	r.observe("patch", found, err)
	return out, found, err
}

func (r *Repository[D]) patchRecord(ctx context.Context, ex storage.Executor, id string, u query.Update) (record.Record, bool, error) {
	if id == "" {
		return record.Record{}, false, query.Invalid(record.FieldID, "id is required")
	}
	f, err := r.aug.ReadFilter(ctx, query.ByID(id), false)
	if err != nil {
		return record.Record{}, false, err
	}
	res, err := ex.Update(ctx, r.coll, f, r.aug.WriteUpdate(ctx, u, false), query.UpdateOptions{})
	if err != nil {
		return record.Record{}, false, r.wrap("patch", err)
	}
	return res.Record, res.Matched, nil
}

// Put replaces the attributes of the live record with id by those of d.
// Attributes absent from d are removed. Identity, tenant, creation and
// deletion fields are preserved.
func (r *Repository[D]) Put(ctx context.Context, id string, d D) (D, bool, error) {
	var (
		rec   record.Record
		found bool
	)
	err := r.inSession(ctx, func(sess storage.Session) error {
		var err error
		rec, found, err = r.put(ctx, sess, id, d)
		return err
	})
	r.observe("put", found, err)
	return r.domainResult(rec, found, err)
}

// PutTx is Put inside a caller owned session.
func (r *Repository[D]) PutTx(ctx context.Context, sess storage.Session, id string, d D) (record.Record, bool, error) {
	rec, found, err := r.put(ctx, r.exec(sess), id, d)
	r.observe("put", found, err)
	return rec, found, err
}

func (r *Repository[D]) put(ctx context.Context, ex storage.Executor, id string, d D) (record.Record, bool, error) {
	next, err := r.mapper.ToRecord(d)
	if err != nil {
		return record.Record{}, false, err
	}
	current, found, err := r.getRecord(ctx, ex, id, false)
	if err != nil || !found {
		return record.Record{}, false, err
	}

	u := query.SetFields(next.Attributes)
	for field := range current.Attributes {
		if _, ok := next.Attributes[field]; !ok {
			u.Unset = append(u.Unset, field)
		}
	}

	f, err := r.aug.ReadFilter(ctx, query.ByID(id), false)
	if err != nil {
		return record.Record{}, false, err
	}
	f = f.And(query.Eq(record.FieldVersion, current.Version))

	res, err := ex.Update(ctx, r.coll, f, r.aug.WriteUpdate(ctx, u, false), query.UpdateOptions{})
	if err != nil {
		return record.Record{}, false, r.wrap("put", err)
	}
	if !res.Matched {
		return record.Record{}, false, r.wrap("put", storage.ErrWriteConflict)
	}
	return res.Record, true, nil
}

// Upsert merges d into the live record matching filter, or creates it when
// none matches. The filter's id and non-empty attributes form equality
// conditions and seed the inserted record. Without a filter id Upsert is
// Create.
func (r *Repository[D]) Upsert(ctx context.Context, d D, filter D) (D, error) {
	rec, err := r.UpsertTx(ctx, nil, d, filter)
	if err != nil {
		var zero D
		return zero, err
	}
	return r.mapper.FromRecord(rec)
}

// UpsertTx is Upsert inside a session.
func (r *Repository[D]) UpsertTx(ctx context.Context, sess storage.Session, d D, filter D) (record.Record, error) {
	match, err := r.mapper.ToRecord(filter)
	if err != nil {
		return record.Record{}, err
	}
	if match.ID == "" {
		return r.CreateTx(ctx, sess, d)
	}

	rec, err := r.upsertRecord(ctx, r.exec(sess), d, match)
	r.observe("upsert", true, err)
	return rec, err
}

func (r *Repository[D]) upsertRecord(ctx context.Context, ex storage.Executor, d D, match record.Record) (record.Record, error) {
	next, err := r.mapper.ToRecord(d)
	if err != nil {
		return record.Record{}, err
	}

	conds := []query.Condition{query.Eq(record.FieldID, match.ID)}
	for field, v := range match.Attributes {
		conds = append(conds, query.Eq(field, v))
	}
	f, err := r.aug.ReadFilter(ctx, query.Where(conds...), false)
	if err != nil {
		return record.Record{}, err
	}

	u := query.SetFields(next.Attributes)
	if tenant := ambient.From(ctx).TenantID; r.aug.TenantIndependent() && tenant != "" {
		u.SetOnInsert = map[string]any{record.FieldTenantID: tenant}
	}

	res, err := ex.Update(ctx, r.coll, f, r.aug.WriteUpdate(ctx, u, true), query.UpdateOptions{Upsert: true})
	if err != nil {
		return record.Record{}, r.wrap("upsert", err)
	}
	return res.Record, nil
}

// Delete soft deletes the live record carrying d's id, merging its other
// non-empty fields like Patch. It reports false when no such record exists.
func (r *Repository[D]) Delete(ctx context.Context, d D) (D, bool, error) {
	rec, found, err := r.DeleteTx(ctx, nil, d)
	return r.domainResult(rec, found, err)
}

// DeleteTx is Delete inside a session.
func (r *Repository[D]) DeleteTx(ctx context.Context, sess storage.Session, d D) (record.Record, bool, error) {
	rec, err := r.mapper.ToRecord(d)
	if err != nil {
		return record.Record{}, false, err
	}
	u := query.SetFields(rec.Attributes)
	if u.Set == nil {
		u.Set = map[string]any{}
	}
	u.Set[record.FieldDeletedAt] = r.aug.Now()
	out, found, err := r.patchRecord(ctx, r.exec(sess), rec.ID, u)
	r.observe("delete", found, err)
	return out, found, err
}

// DeleteByID soft deletes the live record with id.
func (r *Repository[D]) DeleteByID(ctx context.Context, id string) (bool, error) {
	u := query.Update{Set: map[string]any{record.FieldDeletedAt: r.aug.Now()}}
	_, found, err := r.patchRecord(ctx, r.backend, id, u)
	r.observe("delete", found, err)
	return found, err
}

func (r *Repository[D]) exec(sess storage.Session) storage.Executor {
	if sess == nil {
		return r.backend
	}
	return sess
}

func (r *Repository[D]) domainResult(rec record.Record, found bool, err error) (D, bool, error) {
	var zero D
	if err != nil || !found {
		return zero, false, err
	}
	d, err := r.mapper.FromRecord(rec)
	if err != nil {
		return zero, false, err
	}
	return d, true, nil
}
