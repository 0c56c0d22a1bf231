package bunstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(ctx, Config{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, CreateSchema(ctx, db, DefaultOutboxTable, "notes"))
	return New(db)
}

func rec(id, tenant string, attrs map[string]any) record.Record {
	return record.Record{ID: id, TenantID: tenant, Version: 1, CreatedAt: t0, LastModifiedAt: t0, CreatedBy: "svc", Attributes: attrs}
}

func TestInsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, "notes",
		rec("a", "t1", map[string]any{"a": 2, "b": "x"}),
		rec("b", "t1", map[string]any{"a": 1, "b": "y"}),
		rec("c", "t1", map[string]any{"a": 1, "b": "x"}),
		rec("d", "t2", map[string]any{"a": 9, "b": "z"}),
	))

	got, found, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, "x", got.Attributes["b"])

	recs, err := s.Find(ctx, "notes",
		query.Where(query.Eq(record.FieldTenantID, "t1"), query.IsNull(record.FieldDeletedAt)),
		query.FindOptions{Sort: []query.SortField{{Field: "b", Desc: true}, {Field: "a"}}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, idsOf(recs))

	recs, err = s.Find(ctx, "notes", query.Where(query.Gte("a", 2), query.In(record.FieldID, "a", "d")), query.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, idsOf(recs))

	recs, err = s.Find(ctx, "notes", query.Filter{}, query.FindOptions{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, idsOf(recs))

	n, err := s.Count(ctx, "notes", query.Where(query.Eq("b", "x")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	err = s.Insert(ctx, "notes", rec("a", "t1", nil))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func TestUpdateAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", map[string]any{"hello": "a"})))

	t1 := t0.Add(time.Minute)
	u := query.Update{
		Set: map[string]any{"hello": "b", record.FieldLastModifiedAt: t1},
		Inc: map[string]int64{record.FieldVersion: 1},
	}

	res, err := s.Update(ctx, "notes", query.ByID("a"), u, query.UpdateOptions{})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, int64(2), res.Record.Version)

	got, _, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.Equal(t, "b", got.Attributes["hello"])
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, t1.Equal(got.LastModifiedAt))

	res, err = s.Update(ctx, "notes", query.ByID("missing"), u, query.UpdateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Found())

	upsert := query.Where(query.Eq(record.FieldID, "z"), query.Eq(record.FieldTenantID, "t1"), query.IsNull(record.FieldDeletedAt))
	u.SetOnInsert = map[string]any{record.FieldCreatedAt: t1}
	res, err = s.Update(ctx, "notes", upsert, u, query.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	got, found, err := s.FindOne(ctx, "notes", query.ByID("z"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, int64(1), got.Version)
}

func TestSessionRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, "notes", rec("a", "t1", nil)))
	require.NoError(t, sess.InsertOutbox(ctx, record.OutboxRecord{
		AggregateID: "a", AggregateType: "note", EventType: record.EventCreate,
		Topic: "app.outbox.event.note", Payload: []byte(`{}`),
		ExpireAt: t0, EventOccurredAt: t0, CreatedAt: t0,
	}))
	require.NoError(t, sess.Abort(ctx))
	require.NoError(t, sess.Abort(ctx))

	_, found, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.False(t, found)

	out, err := s.FindOutbox(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, _, err = sess.FindOne(ctx, "notes", query.ByID("a"))
	assert.True(t, errors.Is(err, storage.ErrSessionClosed))
}

func TestSessionCommitWithOutbox(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, "notes", rec("a", "t1", nil)))
	require.NoError(t, sess.InsertOutbox(ctx, record.OutboxRecord{
		ID: "o1", AggregateID: "a", AggregateType: "note", EventType: record.EventCreate,
		Topic: "app.outbox.event.note", Payload: []byte(`{"id":"a"}`),
		AdditionalFieldValues: map[string]any{"k": "v"},
		ExpireAt:              t0.AddDate(1, 0, 0), EventOccurredAt: t0, CreatedAt: t0,
	}))
	require.NoError(t, sess.Commit(ctx))

	out, err := s.FindOutbox(ctx, "a")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "o1", out[0].ID)
	assert.Equal(t, record.EventCreate, out[0].EventType)
	assert.JSONEq(t, `{"id":"a"}`, string(out[0].Payload))
	assert.Equal(t, "v", out[0].AdditionalFieldValues["k"])
}

func TestBulkWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", nil)))

	inc := query.Update{Inc: map[string]int64{record.FieldVersion: 1}}
	res, err := s.BulkWrite(ctx, "notes", []storage.WriteOp{
		{Kind: storage.WriteUpdate, Filter: query.ByID("a"), Update: inc},
		{Kind: storage.WriteInsert, Record: rec("b", "t1", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.MatchedIDs)
	assert.Equal(t, []string{"b"}, res.InsertedIDs)

	_, err = s.BulkWrite(ctx, "notes", []storage.WriteOp{
		{Kind: storage.WriteInsert, Record: rec("c", "t1", nil)},
		{Kind: storage.WriteInsert, Record: rec("a", "t1", nil)},
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	_, found, err := s.FindOne(ctx, "notes", query.ByID("c"))
	require.NoError(t, err)
	assert.False(t, found, "failed batch is rolled back")
}

func TestInvalidAttributeName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Find(context.Background(), "notes", query.Where(query.Eq("bad name'", 1)), query.FindOptions{})
	assert.True(t, errors.Is(err, query.ErrValidation))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func idsOf(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
