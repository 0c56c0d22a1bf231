package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-core/ambient"
	"github.com/goliatone/go-repository-core/outbox"
	"github.com/goliatone/go-repository-core/pkg/di"
)

func testViperCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	setupConfigFlags(cmd)
	return cmd
}

func TestReadConfigDefaults(t *testing.T) {
	cmd := testViperCommand(t)
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))

	cfg, err := readConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, di.DefaultConfig(), cfg)
}

func TestReadConfigFromEnvironment(t *testing.T) {
	t.Setenv("CORE_STORAGE_KIND", "sql")
	t.Setenv("CORE_STORAGE_DRIVER", "sqlite3")
	t.Setenv("CORE_STORAGE_DSN", "file:env?mode=memory")
	t.Setenv("CORE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("CORE_OUTBOX_APP_NAME", "billing")

	cmd := testViperCommand(t)
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))

	cfg, err := readConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, di.StorageSQL, cfg.Storage.Kind)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, "file:env?mode=memory", cfg.Storage.DSN)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, "billing", cfg.Outbox.AppName)
}

func TestReadConfigFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CORE_APP_NAME", "from-env")

	cmd := testViperCommand(t)
	require.NoError(t, cmd.PersistentFlags().Set("app.name", "from-flag"))
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))

	cfg, err := readConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.App.Name)
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: from-file\noutbox:\n  topic_prefix: events\n"), 0o644))

	cmd := testViperCommand(t)
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))

	cfg, err := readConfig(v, path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.App.Name)
	assert.Equal(t, "events", cfg.Outbox.TopicPrefix)
}

func TestReadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("CORE_STORAGE_KIND", "sql")

	cmd := testViperCommand(t)
	v := newViper()
	require.NoError(t, v.BindPFlags(cmd.PersistentFlags()))

	_, err := readConfig(v, "")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	cfg := di.DefaultConfig()
	cfg.Storage.DSN = "postgres://user:secret@db/core"
	assert.Equal(t, "***", redact(cfg).Storage.DSN)
	assert.Equal(t, "", redact(di.DefaultConfig()).Storage.DSN)
}

func TestSerializerFor(t *testing.T) {
	s, err := serializerFor("json")
	require.NoError(t, err)
	assert.IsType(t, outbox.JSONSerializer{}, s)

	s, err = serializerFor("msgpack")
	require.NoError(t, err)
	assert.IsType(t, outbox.MsgpackSerializer{}, s)

	_, err = serializerFor("xml")
	assert.Error(t, err)
}

func TestDemo(t *testing.T) {
	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			serializer, err := serializerFor(format)
			require.NoError(t, err)

			ctx := ambient.With(context.Background(), ambient.Context{TenantID: "demo", UserID: "tester"})
			var out bytes.Buffer
			require.NoError(t, demo(ctx, &out, di.DefaultConfig(), serializer, prometheus.NewRegistry()))

			text := out.String()
			assert.Contains(t, text, "created")
			assert.Contains(t, text, "status=closed")
			assert.Contains(t, text, "CREATE default.outbox.event.Ticket")
			assert.Contains(t, text, "UPDATE default.outbox.event.Ticket")
			assert.Contains(t, text, "DELETE default.outbox.event.Ticket")
			assert.Contains(t, text, `cache_requests_total{bucket=Ticket,result=hit} 1`)
		})
	}
}
