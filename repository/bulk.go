package repository

import (
	"context"
	"fmt"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

// BulkCreate inserts every value in one batch and returns their ids in input
// order.
func (r *Repository[D]) BulkCreate(ctx context.Context, ds []D) ([]string, error) {
	recs, err := r.BulkCreateTx(ctx, nil, ds)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return ids, nil
}

// BulkCreateWithResponse is BulkCreate returning the stored values.
func (r *Repository[D]) BulkCreateWithResponse(ctx context.Context, ds []D) ([]D, error) {
	recs, err := r.BulkCreateTx(ctx, nil, ds)
	if err != nil {
		return nil, err
	}
	return r.toDomains(recs)
}

// BulkCreateTx is BulkCreate inside a session.
func (r *Repository[D]) BulkCreateTx(ctx context.Context, sess storage.Session, ds []D) ([]record.Record, error) {
	if len(ds) == 0 {
		return []record.Record{}, nil
	}
	recs := make([]record.Record, 0, len(ds))
	for _, d := range ds {
		rec, err := r.prepareCreate(ctx, d)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	err := r.wrap("bulk_create", r.exec(sess).Insert(ctx, r.coll, recs...))
	r.observe("bulk_create", true, err)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// BulkPatch merges every value into the live record carrying its id. Values
// without a matching record are skipped.
func (r *Repository[D]) BulkPatch(ctx context.Context, ds []D) error {
	_, err := r.bulkPatch(ctx, r.backend, ds)
	r.observe("bulk_patch", true, err)
	return err
}

// BulkPatchTx is BulkPatch inside a session and returns the patched records.
func (r *Repository[D]) BulkPatchTx(ctx context.Context, sess storage.Session, ds []D) ([]record.Record, error) {
	ex := r.exec(sess)
	ids, err := r.bulkPatch(ctx, ex, ds)
	if err == nil {
		var recs []record.Record
		recs, err = r.loadIDs(ctx, ex, ids)
		r.observe("bulk_patch", true, err)
		return recs, err
	}
	r.observe("bulk_patch", true, err)
	return nil, err
}

func (r *Repository[D]) bulkPatch(ctx context.Context, ex storage.Executor, ds []D) ([]string, error) {
	if len(ds) == 0 {
		return []string{}, nil
	}
	ops := make([]storage.WriteOp, 0, len(ds))
	for i, d := range ds {
		rec, err := r.mapper.ToRecord(d)
		if err != nil {
			return nil, err
		}
		if rec.ID == "" {
			return nil, query.Invalid(record.FieldID, "item %d has no id", i)
		}
		op, err := r.updateOp(ctx, rec)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	res, err := ex.BulkWrite(ctx, r.coll, ops)
	if err != nil {
		return nil, r.wrap("bulk_patch", err)
	}
	return res.MatchedIDs, nil
}

// BulkUpsert patches the values whose id names a live record and inserts
// the rest. Ids of inserted values are kept when given. An id may appear
// only once per batch.
func (r *Repository[D]) BulkUpsert(ctx context.Context, ds []D) (record.BulkResult, error) {
	var res record.BulkResult
	err := r.inSession(ctx, func(sess storage.Session) error {
		var err error
		res, _, err = r.bulkUpsert(ctx, sess, ds)
		return err
	})
	r.observe("bulk_upsert", true, err)
	if err != nil {
		return record.BulkResult{}, err
	}
	return res, nil
}

// BulkUpsertTx is BulkUpsert inside a caller owned session. It also returns
// the affected records in input order.
func (r *Repository[D]) BulkUpsertTx(ctx context.Context, sess storage.Session, ds []D) (record.BulkResult, []record.Record, error) {
	res, recs, err := r.bulkUpsert(ctx, r.exec(sess), ds)
	r.observe("bulk_upsert", true, err)
	return res, recs, err
}

func (r *Repository[D]) bulkUpsert(ctx context.Context, ex storage.Executor, ds []D) (record.BulkResult, []record.Record, error) {
	out := record.BulkResult{InsertIDs: []string{}, UpsertIDs: []string{}}
	if len(ds) == 0 {
		return out, []record.Record{}, nil
	}

	recs := make([]record.Record, 0, len(ds))
	var ids []string
	seen := make(map[string]int, len(ds))
	for i, d := range ds {
		rec, err := r.mapper.ToRecord(d)
		if err != nil {
			return out, nil, err
		}
		recs = append(recs, rec)
		if rec.ID == "" {
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			return out, nil, query.Invalid(record.FieldID, "item %d repeats id %q of item %d", i, rec.ID, first)
		}
		seen[rec.ID] = i
		ids = append(ids, rec.ID)
	}

	existing := map[string]struct{}{}
	if len(ids) > 0 {
		found, err := r.find(ctx, ex, query.Where(query.In(record.FieldID, ids...)), query.Page{}, false)
		if err != nil {
			return out, nil, err
		}
		for _, rec := range found {
			existing[rec.ID] = struct{}{}
		}
	}

	ops := make([]storage.WriteOp, 0, len(recs))
	order := make([]string, 0, len(recs))
	for i, rec := range recs {
		if _, ok := existing[rec.ID]; ok && rec.ID != "" {
			op, err := r.updateOp(ctx, rec)
			if err != nil {
				return out, nil, err
			}
			ops = append(ops, op)
			order = append(order, rec.ID)
			continue
		}
		created, err := r.prepareCreate(ctx, ds[i])
		if err != nil {
			return out, nil, err
		}
		ops = append(ops, storage.WriteOp{Kind: storage.WriteInsert, Record: created})
		order = append(order, created.ID)
	}

	res, err := ex.BulkWrite(ctx, r.coll, ops)
	if err != nil {
		return out, nil, r.wrap("bulk_upsert", err)
	}
	out.InsertIDs = append(out.InsertIDs, res.InsertedIDs...)
	out.UpsertIDs = append(out.UpsertIDs, res.MatchedIDs...)

	stored, err := r.loadIDs(ctx, ex, order)
	if err != nil {
		return out, nil, err
	}
	return out, stored, nil
}

func (r *Repository[D]) updateOp(ctx context.Context, rec record.Record) (storage.WriteOp, error) {
	f, err := r.aug.ReadFilter(ctx, query.ByID(rec.ID), false)
	if err != nil {
		return storage.WriteOp{}, err
	}
	return storage.WriteOp{
		Kind:   storage.WriteUpdate,
		Filter: f,
		Update: r.aug.WriteUpdate(ctx, query.SetFields(rec.Attributes), false),
	}, nil
}

// loadIDs reads back the records with ids, in the order given.
func (r *Repository[D]) loadIDs(ctx context.Context, ex storage.Executor, ids []string) ([]record.Record, error) {
	if len(ids) == 0 {
		return []record.Record{}, nil
	}
	found, err := r.find(ctx, ex, query.Where(query.In(record.FieldID, ids...)), query.Page{}, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]record.Record, len(found))
	for _, rec := range found {
		byID[rec.ID] = rec
	}
	out := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("repository %s: record %s vanished during bulk write: %w", r.coll, id, storage.ErrWriteConflict)
		}
		out = append(out, rec)
	}
	return out, nil
}
