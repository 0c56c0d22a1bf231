package record

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Meta
	Hello string   `json:"hello,omitempty"`
	Count int      `json:"count,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestJSONMapperRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 123000, time.UTC)
	in := note{
		Meta:  Meta{ID: "n1", TenantID: "t1", CreatedAt: now, LastModifiedAt: now, Version: 2, CreatedBy: "svc"},
		Hello: "a",
		Count: 3,
		Tags:  []string{"x"},
	}

	m := JSONMapper[note]{}
	r, err := m.ToRecord(in)
	require.NoError(t, err)

	assert.Equal(t, "n1", r.ID)
	assert.Equal(t, "t1", r.TenantID)
	assert.Equal(t, int64(2), r.Version)
	assert.True(t, now.Equal(r.CreatedAt))
	assert.Nil(t, r.DeletedAt)
	assert.Equal(t, "a", r.Attributes["hello"])
	assert.Equal(t, json.Number("3"), r.Attributes["count"])

	out, err := m.FromRecord(r)
	require.NoError(t, err)
	assert.Equal(t, in.Hello, out.Hello)
	assert.Equal(t, in.Count, out.Count)
	assert.Equal(t, in.Tags, out.Tags)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestJSONMapperDropsEmptyFields(t *testing.T) {
	r, err := JSONMapper[map[string]any]{}.ToRecord(map[string]any{
		"hello": "",
		"name":  nil,
		"list":  []any{},
		"keep":  false,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"keep": false}, r.Attributes)
}

func TestJSONMapperToleratesUnknownFields(t *testing.T) {
	r := Record{ID: "n1", Version: 1, Attributes: map[string]any{"hello": "a", "other": 1}}

	out, err := JSONMapper[note]{}.FromRecord(r)
	require.NoError(t, err)
	assert.Equal(t, "a", out.Hello)
}

func TestRecordSetConvertsBookkeeping(t *testing.T) {
	var r Record
	require.NoError(t, r.Set(FieldVersion, float64(4)))
	assert.Equal(t, int64(4), r.Version)

	now := time.Now().UTC()
	require.NoError(t, r.Set(FieldDeletedAt, now))
	assert.True(t, r.Deleted())

	require.NoError(t, r.Set(FieldDeletedAt, nil))
	assert.False(t, r.Deleted())

	assert.Error(t, r.Set(FieldVersion, 1.5))
	assert.Error(t, r.Set(FieldID, 10))
}

func TestDeriveEventType(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	assert.Equal(t, EventCreate, DeriveEventType(Record{CreatedAt: t0, LastModifiedAt: t0}))
	assert.Equal(t, EventUpdate, DeriveEventType(Record{CreatedAt: t0, LastModifiedAt: t1}))
	assert.Equal(t, EventDelete, DeriveEventType(Record{CreatedAt: t0, LastModifiedAt: t1, DeletedAt: &t1}))
}

func TestCloneDoesNotShareAttributes(t *testing.T) {
	r := Record{Attributes: map[string]any{"a": 1}}
	c := r.Clone()
	c.Attributes["a"] = 2
	assert.Equal(t, 1, r.Attributes["a"])
}
