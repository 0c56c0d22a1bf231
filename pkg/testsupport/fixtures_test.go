package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.txt")
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if got := string(LoadFixture(t, path)); got != "payload" {
		t.Errorf("expected %q, got %q", "payload", got)
	}
}

func TestLoadFixtureJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	if err := os.WriteFile(path, []byte(`{"name":"note","rank":3}`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	var got struct {
		Name string `json:"name"`
		Rank int    `json:"rank"`
	}
	LoadFixtureJSON(t, path, &got)

	if got.Name != "note" || got.Rank != 3 {
		t.Errorf("unexpected fixture value: %+v", got)
	}
}

func TestLoadRecordsAppliesDefaults(t *testing.T) {
	recs := LoadRecords(t, FixturePath("records.json"))
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	first := recs[0]
	if first.Version != 1 {
		t.Errorf("expected default version 1, got %d", first.Version)
	}
	if !first.CreatedAt.Equal(Epoch) || !first.LastModifiedAt.Equal(Epoch) {
		t.Errorf("expected epoch timestamps, got %v and %v", first.CreatedAt, first.LastModifiedAt)
	}
	if first.DeletedAt != nil {
		t.Errorf("expected live record, got deletedAt %v", first.DeletedAt)
	}
	if first.Attributes["title"] != "first" {
		t.Errorf("unexpected attributes: %v", first.Attributes)
	}
}

func TestLoadRecordsKeepsExplicitFields(t *testing.T) {
	recs := LoadRecords(t, FixturePath("records.json"))

	second := recs[1]
	if second.Version != 3 {
		t.Errorf("expected version 3, got %d", second.Version)
	}
	if want := time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC); !second.LastModifiedAt.Equal(want) {
		t.Errorf("expected lastModifiedAt %v, got %v", want, second.LastModifiedAt)
	}
	if second.DeletedAt == nil {
		t.Fatal("expected deletedAt to be set")
	}
	if second.TenantID != "t1" {
		t.Errorf("expected tenant t1, got %q", second.TenantID)
	}

	third := recs[2]
	if !third.LastModifiedAt.Equal(third.CreatedAt) {
		t.Errorf("expected lastModifiedAt to follow createdAt, got %v and %v", third.LastModifiedAt, third.CreatedAt)
	}
	if third.TenantID != "" {
		t.Errorf("expected no tenant, got %q", third.TenantID)
	}
}

func TestCompareWithGoldenCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "out.json")

	CompareWithGolden(t, path, []byte(`{"ok":true}`))

	if got := string(LoadGolden(t, path)); got != `{"ok":true}` {
		t.Errorf("expected golden to be created, got %q", got)
	}
}

func TestCompareWithGoldenMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	WriteGolden(t, path, []byte("same"))

	CompareWithGolden(t, path, []byte("same"))
}

func TestCompareWithGoldenUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	WriteGolden(t, path, []byte("old"))
	t.Setenv(UpdateGoldenEnv, "1")

	CompareWithGolden(t, path, []byte("new"))

	if got := string(LoadGolden(t, path)); got != "new" {
		t.Errorf("expected golden to be rewritten, got %q", got)
	}
}

func TestPaths(t *testing.T) {
	if got, want := FixturePath("a.json"), filepath.Join("testdata", "a.json"); got != want {
		t.Errorf("FixturePath: expected %q, got %q", want, got)
	}
	if got, want := GoldenPath("a.json"), filepath.Join("testdata", "golden", "a.json"); got != want {
		t.Errorf("GoldenPath: expected %q, got %q", want, got)
	}
}
