package query

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-core/pkg/testsupport"
	"github.com/goliatone/go-repository-core/record"
)

func loadSortFixture(t *testing.T) []record.Record {
	t.Helper()
	var rows []map[string]any
	testsupport.LoadFixtureJSON(t, "testdata/sort_fixture.json", &rows)

	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		r := record.Record{ID: row["id"].(string), Attributes: map[string]any{}}
		for k, v := range row {
			if k != "id" {
				r.Attributes[k] = v
			}
		}
		out = append(out, r)
	}
	return out
}

func ids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestSortRecordsMultiKey(t *testing.T) {
	recs := loadSortFixture(t)
	a := NewAugmenter(false, []string{"a", "b"}, nil)
	sortBy, err := a.ParseSort([]string{"-b", "a"})
	require.NoError(t, err)

	SortRecords(recs, sortBy)

	assert.Equal(t, []string{"r5", "r2", "r4", "r1", "r3"}, ids(recs))
}

func TestMatchOperators(t *testing.T) {
	deleted := t0
	r := record.Record{
		ID:        "x",
		TenantID:  "t1",
		CreatedAt: t0,
		Version:   3,
		Attributes: map[string]any{
			"n":    json.Number("5"),
			"name": "ann",
		},
	}

	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq string", Eq("name", "ann"), true},
		{"eq number across types", Eq("n", 5), true},
		{"ne", Ne("name", "bob"), true},
		{"in", In("name", "bob", "ann"), true},
		{"in miss", In("name", "bob"), false},
		{"gt", Gt("n", 4.5), true},
		{"lte version", Lte(record.FieldVersion, 3), true},
		{"gte time", Gte(record.FieldCreatedAt, t0), true},
		{"lt time", Lt(record.FieldCreatedAt, t0), false},
		{"null deletedAt", IsNull(record.FieldDeletedAt), true},
		{"notnull missing attr", NotNull("missing"), false},
		{"gt missing attr", Gt("missing", 1), false},
		{"incomparable", Gt("name", 1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Match(r, Where(tc.cond)))
		})
	}

	r.DeletedAt = &deleted
	assert.False(t, Match(r, Where(IsNull(record.FieldDeletedAt))))
}

func TestApplyAndSeed(t *testing.T) {
	f := Where(Eq(record.FieldID, "x"), Eq(record.FieldTenantID, "t1"), IsNull(record.FieldDeletedAt))
	r, err := Seed(f)
	require.NoError(t, err)
	assert.Equal(t, "x", r.ID)
	assert.Equal(t, "t1", r.TenantID)

	u := Update{
		Set:         map[string]any{"hello": "a", record.FieldLastModifiedAt: t0},
		Inc:         map[string]int64{record.FieldVersion: 1, "hits": 2},
		SetOnInsert: map[string]any{record.FieldCreatedAt: t0},
	}
	require.NoError(t, Apply(&r, u, true))

	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, int64(2), r.Attributes["hits"])
	assert.Equal(t, t0, r.CreatedAt)
	assert.Equal(t, "a", r.Attributes["hello"])

	require.NoError(t, Apply(&r, Update{Unset: []string{"hello"}, Inc: map[string]int64{"hits": 1}}, false))
	assert.NotContains(t, r.Attributes, "hello")
	assert.Equal(t, int64(3), r.Attributes["hits"])

	assert.Error(t, Apply(&r, Update{Inc: map[string]int64{"name": 1}, Set: map[string]any{"name": "x"}}, false))
}

func TestPaginate(t *testing.T) {
	recs := loadSortFixture(t)

	assert.Equal(t, []string{"r2", "r3"}, ids(Paginate(recs, 1, 2)))
	assert.Equal(t, []string{"r4", "r5"}, ids(Paginate(recs, 3, 0)))
	assert.Empty(t, Paginate(recs, 10, 1))
}

func TestCompareNilFirst(t *testing.T) {
	c, ok := Compare(nil, time.Now())
	assert.True(t, ok)
	assert.Equal(t, -1, c)
}
