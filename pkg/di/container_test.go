package di

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/storage/bunstore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should be valid, got %v", err)
	}
	if cfg.Storage.Kind != StorageMemory {
		t.Errorf("expected memory storage, got %q", cfg.Storage.Kind)
	}
	if cfg.Cache.DefaultTTL != cache.DefaultTTL {
		t.Errorf("expected default TTL %v, got %v", cache.DefaultTTL, cfg.Cache.DefaultTTL)
	}
	if cfg.Outbox.Retention != 365*24*time.Hour {
		t.Errorf("expected one year retention, got %v", cfg.Outbox.Retention)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		edit     func(*Config)
		errorMsg string
	}{
		{name: "valid", edit: func(*Config) {}},
		{name: "missing app name", edit: func(c *Config) { c.App.Name = "" }, errorMsg: "name"},
		{name: "unknown env", edit: func(c *Config) { c.App.Env = "qa" }, errorMsg: "env"},
		{name: "unknown storage kind", edit: func(c *Config) { c.Storage.Kind = "mongo" }, errorMsg: "kind"},
		{name: "sql without driver", edit: func(c *Config) {
			c.Storage.Kind = StorageSQL
			c.Storage.DSN = "file::memory:"
		}, errorMsg: "driver"},
		{name: "sql without dsn", edit: func(c *Config) {
			c.Storage.Kind = StorageSQL
			c.Storage.Driver = bunstore.DriverSQLite
		}, errorMsg: "dsn"},
		{name: "sql with unknown driver", edit: func(c *Config) {
			c.Storage.Kind = StorageSQL
			c.Storage.Driver = "oracle"
			c.Storage.DSN = "x"
		}, errorMsg: "driver"},
		{name: "invalid cache", edit: func(c *Config) { c.Cache.Capacity = 0 }, errorMsg: "Capacity"},
		{name: "invalid outbox retention", edit: func(c *Config) { c.Outbox.Retention = time.Millisecond }, errorMsg: "Retention"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error but got none")
			}
			if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(tt.errorMsg)) {
				t.Errorf("expected error to mention %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestStorageConfig_ValidateReturnsOzzoErrors(t *testing.T) {
	err := StorageConfig{Kind: StorageSQL}.Validate()
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation.Errors, got %T", err)
	}
	if _, ok := verrs["Driver"]; !ok {
		t.Errorf("expected a driver error, got %v", verrs)
	}
	if _, ok := verrs["DSN"]; !ok {
		t.Errorf("expected a dsn error, got %v", verrs)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container, err := NewContainerWithDefaults(context.Background())
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	defer container.Close()

	if container.Storage() == nil {
		t.Fatal("Container should have a storage backend")
	}
	if container.Storage().Name() != "memory" {
		t.Errorf("expected memory storage, got %q", container.Storage().Name())
	}
	if container.DB() != nil {
		t.Error("memory container should have no SQL handle")
	}
	if container.Cache() == nil {
		t.Error("Container should have a cache backend")
	}
	if container.KeySerializer() == nil {
		t.Error("Container should have a key serializer")
	}
	if container.Locks() == nil {
		t.Error("Container should have a lock factory")
	}
	if err := container.Migrate(context.Background(), "notes"); err != nil {
		t.Errorf("Migrate() on memory storage should be a no-op, got %v", err)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.NumShards = 0

	container, err := NewContainer(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if container != nil {
		t.Error("expected nil container on error")
	}
}

func TestNewContainer_SQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage = StorageConfig{
		Kind:        StorageSQL,
		Driver:      bunstore.DriverSQLite,
		DSN:         "file:di_container?mode=memory&cache=shared",
		AutoMigrate: true,
	}

	container, err := NewContainer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.DB() == nil {
		t.Fatal("SQL container should expose its handle")
	}
	if !strings.HasPrefix(container.Storage().Name(), "sql:") {
		t.Errorf("expected sql storage, got %q", container.Storage().Name())
	}
	if err := container.Migrate(context.Background(), "notes"); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
}

func TestNilContainer(t *testing.T) {
	if _, err := NewRepository[Note](nil, noteMeta); err == nil {
		t.Error("NewRepository should reject a nil container")
	}
	if _, err := NewCoordinator[Note](nil, nil, nil); err == nil {
		t.Error("NewCoordinator should reject a nil container")
	}
	if _, err := NewCachedRepository[Note](nil, nil); err == nil {
		t.Error("NewCachedRepository should reject a nil container")
	}
}
