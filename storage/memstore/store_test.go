package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-core/pkg/testsupport"
	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(id, tenant string, attrs map[string]any) record.Record {
	return record.Record{ID: id, TenantID: tenant, Version: 1, CreatedAt: t0, LastModifiedAt: t0, Attributes: attrs}
}

func TestInsertFindCount(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Insert(ctx, "notes",
		rec("a", "t1", map[string]any{"n": 2}),
		rec("b", "t1", map[string]any{"n": 1}),
		rec("c", "t2", map[string]any{"n": 3}),
	))

	got, found, err := s.FindOne(ctx, "notes", query.ByID("b"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got.Attributes["n"])

	recs, err := s.Find(ctx, "notes", query.Where(query.Eq(record.FieldTenantID, "t1")), query.FindOptions{
		Sort: []query.SortField{{Field: "n"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)

	n, err := s.Count(ctx, "notes", query.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	err = s.Insert(ctx, "notes", rec("a", "t1", nil))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func TestFindLiveRecordsFromFixture(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "notes", testsupport.LoadRecords(t, testsupport.FixturePath("notes.json"))...))

	recs, err := s.Find(ctx, "notes", query.Where(
		query.Eq(record.FieldTenantID, "t1"),
		query.IsNull(record.FieldDeletedAt),
	), query.FindOptions{Sort: []query.SortField{{Field: "title"}}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "n2", recs[0].ID)
	assert.Equal(t, "n1", recs[1].ID)

	n, err := s.Count(ctx, "notes", query.Where(query.NotNull(record.FieldDeletedAt)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", map[string]any{"n": 1})))

	got, _, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	got.Attributes["n"] = 99

	again, _, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Attributes["n"])
}

func TestUpdateMatchAndUpsert(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", nil)))

	u := query.Update{Set: map[string]any{"hello": "b"}, Inc: map[string]int64{record.FieldVersion: 1}}

	res, err := s.Update(ctx, "notes", query.ByID("a"), u, query.UpdateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, int64(2), res.Record.Version)
	assert.Equal(t, "b", res.Record.Attributes["hello"])

	res, err = s.Update(ctx, "notes", query.ByID("missing"), u, query.UpdateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Found())

	filter := query.Where(query.Eq(record.FieldID, "z"), query.Eq(record.FieldTenantID, "t1"))
	res, err = s.Update(ctx, "notes", filter, u, query.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, "z", res.Record.ID)
	assert.Equal(t, "t1", res.Record.TenantID)
	assert.Equal(t, int64(1), res.Record.Version)

	// id taken by a record the filter does not match
	other := query.Where(query.Eq(record.FieldID, "a"), query.Eq(record.FieldTenantID, "t2"))
	_, err = s.Update(ctx, "notes", other, u, query.UpdateOptions{Upsert: true})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func TestSessionIsolationAndCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, "notes", rec("a", "t1", nil)))
	require.NoError(t, sess.InsertOutbox(ctx, record.OutboxRecord{AggregateID: "a"}))

	_, found, err := sess.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.True(t, found, "session sees its own writes")

	_, found, err = s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.False(t, found, "uncommitted writes are invisible")

	require.NoError(t, sess.Commit(ctx))

	_, found, err = s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, s.Outbox(), 1)

	assert.True(t, errors.Is(sess.Commit(ctx), storage.ErrSessionClosed))
	assert.NoError(t, sess.Abort(ctx))
}

func TestSessionAbortDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Insert(ctx, "notes", rec("a", "t1", nil)))
	require.NoError(t, sess.InsertOutbox(ctx, record.OutboxRecord{AggregateID: "a"}))
	require.NoError(t, sess.Abort(ctx))

	_, found, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, s.Outbox())

	_, _, err = sess.FindOne(ctx, "notes", query.ByID("a"))
	assert.True(t, errors.Is(err, storage.ErrSessionClosed))
}

func TestSessionWriteConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", nil)))
	inc := query.Update{Inc: map[string]int64{record.FieldVersion: 1}}

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.Update(ctx, "notes", query.ByID("a"), inc, query.UpdateOptions{})
	require.NoError(t, err)

	_, err = s.Update(ctx, "notes", query.ByID("a"), inc, query.UpdateOptions{})
	require.NoError(t, err)

	assert.True(t, errors.Is(sess.Commit(ctx), storage.ErrWriteConflict))

	got, _, err := s.FindOne(ctx, "notes", query.ByID("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestBulkWriteIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Insert(ctx, "notes", rec("a", "t1", nil)))

	inc := query.Update{Inc: map[string]int64{record.FieldVersion: 1}}
	res, err := s.BulkWrite(ctx, "notes", []storage.WriteOp{
		{Kind: storage.WriteUpdate, Filter: query.ByID("a"), Update: inc},
		{Kind: storage.WriteInsert, Record: rec("b", "t1", nil)},
		{Kind: storage.WriteUpdate, Filter: query.ByID("c"), Update: inc},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.MatchedIDs)
	assert.Equal(t, []string{"b"}, res.InsertedIDs)

	_, found, err := s.FindOne(ctx, "notes", query.ByID("c"))
	require.NoError(t, err)
	assert.False(t, found, "bulk updates never insert")

	_, err = s.BulkWrite(ctx, "notes", []storage.WriteOp{
		{Kind: storage.WriteInsert, Record: rec("d", "t1", nil)},
		{Kind: storage.WriteInsert, Record: rec("a", "t1", nil)},
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	_, found, err = s.FindOne(ctx, "notes", query.ByID("d"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
