package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-repository-core/record"
)

// UpdateGoldenEnv rewrites golden files with the actual output when set to a
// non-empty value.
const UpdateGoldenEnv = "CORE_UPDATE_GOLDEN"

// Epoch is the instant fixture records are stamped with when they carry no
// timestamps of their own.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

type fixtureRecord struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Version        int64          `json:"version"`
	CreatedAt      *time.Time     `json:"created_at"`
	LastModifiedAt *time.Time     `json:"last_modified_at"`
	DeletedAt      *time.Time     `json:"deleted_at"`
	Attributes     map[string]any `json:"attributes"`
}

// LoadRecords reads a JSON array of records. Missing timestamps default to
// Epoch and a missing version to 1, so fixtures only spell out what a test
// cares about.
func LoadRecords(t testing.TB, path string) []record.Record {
	t.Helper()

	var raw []fixtureRecord
	LoadFixtureJSON(t, path, &raw)

	out := make([]record.Record, len(raw))
	for i, r := range raw {
		if r.ID == "" {
			t.Fatalf("record %d in %s has no id", i, path)
		}
		rec := record.Record{
			ID:             r.ID,
			TenantID:       r.TenantID,
			Version:        r.Version,
			CreatedAt:      Epoch,
			LastModifiedAt: Epoch,
			DeletedAt:      r.DeletedAt,
			Attributes:     r.Attributes,
		}
		if rec.Version == 0 {
			rec.Version = 1
		}
		if r.CreatedAt != nil {
			rec.CreatedAt = *r.CreatedAt
		}
		if r.LastModifiedAt != nil {
			rec.LastModifiedAt = *r.LastModifiedAt
		} else {
			rec.LastModifiedAt = rec.CreatedAt
		}
		out[i] = rec
	}
	return out
}

// LoadGolden loads expected test output from a golden file.
func LoadGolden(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load golden file from %s: %v", path, err)
	}
	return data
}

// WriteGolden writes test output to a golden file, creating its directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual with the golden file at path. A missing
// golden file is created from actual; with UpdateGoldenEnv set an existing
// one is overwritten.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if os.Getenv(UpdateGoldenEnv) != "" {
		WriteGolden(t, path, actual)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
