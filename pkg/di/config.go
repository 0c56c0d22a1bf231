package di

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-repository-core/cache"
	"github.com/goliatone/go-repository-core/outbox"
	"github.com/goliatone/go-repository-core/storage/bunstore"
)

// Storage kinds.
const (
	StorageMemory = "memory"
	StorageSQL    = "sql"
)

// Config groups the settings a Container is built from.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   cache.Config  `mapstructure:"cache"`
	Outbox  outbox.Config `mapstructure:"outbox"`
}

// AppConfig identifies the running application.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Kind         string `mapstructure:"kind"`
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	OutboxTable  string `mapstructure:"outbox_table"`
	// AutoMigrate creates missing tables for the collections passed to
	// Container.Migrate and for the outbox.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Name: outbox.DefaultAppName, Env: "dev"},
		Storage: StorageConfig{
			Kind:        StorageMemory,
			OutboxTable: bunstore.DefaultOutboxTable,
		},
		Cache: cache.DefaultConfig(),
		Outbox: outbox.Config{
			AppName:   outbox.DefaultAppName,
			Retention: outbox.DefaultRetention,
		},
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Outbox.Validate()
}

// Validate checks the application section.
func (c AppConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Env, validation.In("dev", "test", "staging", "prod")),
	)
}

// Validate checks the storage section.
func (c StorageConfig) Validate() error {
	sql := c.Kind == StorageSQL
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(StorageMemory, StorageSQL)),
		validation.Field(&c.Driver, validation.When(sql,
			validation.Required,
			validation.In(bunstore.DriverPostgres, bunstore.DriverPgx, bunstore.DriverMySQL, bunstore.DriverSQLite),
		)),
		validation.Field(&c.DSN, validation.When(sql, validation.Required)),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}
