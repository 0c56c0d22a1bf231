//go:build integration

package bunstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goliatone/go-repository-core/query"
	"github.com/goliatone/go-repository-core/record"
	"github.com/goliatone/go-repository-core/storage"
)

func TestMySQLStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	dsn, container := startMySQLContainer(t, ctx)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	db, err := Open(ctx, Config{Driver: DriverMySQL, DSN: dsn, PingTimeout: 30 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, CreateSchema(ctx, db, DefaultOutboxTable, "notes"))

	s := New(db)
	require.False(t, s.AtomicUpsert())

	require.NoError(t, s.Insert(ctx, "notes",
		rec("a", "t1", map[string]any{"a": 2, "b": "x"}),
		rec("b", "t1", map[string]any{"a": 1, "b": "y"}),
	))

	recs, err := s.Find(ctx, "notes",
		query.Where(query.Eq(record.FieldTenantID, "t1"), query.Eq("b", "x")),
		query.FindOptions{Sort: []query.SortField{{Field: "a", Desc: true}}},
	)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, idsOf(recs))

	res, err := s.Update(ctx, "notes", query.ByID("a"),
		query.Update{Set: map[string]any{"b": "q"}, Inc: map[string]int64{record.FieldVersion: 1}},
		query.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Record.Version)

	err = s.Insert(ctx, "notes", rec("a", "t1", nil))
	require.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func startMySQLContainer(t *testing.T, ctx context.Context) (string, testcontainers.Container) {
	t.Helper()
	port := nat.Port("3306/tcp")
	dsnFor := func(host string, port nat.Port) string {
		return fmt.Sprintf("root:secret@tcp(%s:%s)/core?parseTime=true", host, port.Port())
	}
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "core",
		},
		WaitingFor: wait.ForSQL(port, "mysql", dsnFor).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}
	return dsnFor(host, mapped), container
}
