package cache

import (
	"testing"
	"time"
)

type cachedNote struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func TestMsgpackCodec_PreservesValues(t *testing.T) {
	codec := MsgpackCodec{}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := cachedNote{ID: "n-1", Title: "hello", Tags: []string{"a", "b"}, UpdatedAt: at}

	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var out cachedNote
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.ID != in.ID || out.Title != in.Title || len(out.Tags) != 2 {
		t.Errorf("Unmarshal() = %+v, want %+v", out, in)
	}
	if !out.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", out.UpdatedAt, at)
	}
	if out.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", out.DeletedAt)
	}
}

func TestMsgpackCodec_UsesJSONNames(t *testing.T) {
	data, err := MsgpackCodec{}.Marshal(cachedNote{ID: "n-1"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var fields map[string]any
	if err := (MsgpackCodec{}).Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if fields["id"] != "n-1" {
		t.Errorf("fields = %v, want id key", fields)
	}
	if _, ok := fields["title"]; ok {
		t.Errorf("omitempty field title was encoded")
	}
}
