package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goliatone/go-repository-core/pkg/di"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(redact(cfg), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

// setupConfigFlags registers one persistent flag per configuration key.
func setupConfigFlags(cmd *cobra.Command) {
	d := di.DefaultConfig()
	f := cmd.PersistentFlags()

	f.String("app.name", d.App.Name, "application name")
	f.String("app.env", d.App.Env, "environment (dev, test, staging, prod)")

	f.String("storage.kind", d.Storage.Kind, "storage backend (memory, sql)")
	f.String("storage.driver", d.Storage.Driver, "sql driver (postgres, pgx, mysql, sqlite3)")
	f.String("storage.dsn", d.Storage.DSN, "sql data source name")
	f.Int("storage.max_open_conns", d.Storage.MaxOpenConns, "sql pool size, 0 for the default")
	f.String("storage.outbox_table", d.Storage.OutboxTable, "outbox table name")
	f.Bool("storage.auto_migrate", d.Storage.AutoMigrate, "create missing tables")

	f.Int("cache.capacity", d.Cache.Capacity, "cache capacity")
	f.Int("cache.num_shards", d.Cache.NumShards, "cache shards")
	f.Duration("cache.max_ttl", d.Cache.MaxTTL, "upper bound on cache entry lifetime")
	f.Int("cache.eviction_percentage", d.Cache.EvictionPercentage, "share of a full shard evicted at once")
	f.Duration("cache.eviction_interval", d.Cache.EvictionInterval, "background eviction interval, 0 to disable")
	f.Duration("cache.default_ttl", d.Cache.DefaultTTL, "ttl of cache-aside entries")
	f.Int("cache.invalidate_retries", d.Cache.InvalidateRetries, "retries after a failed invalidation")

	f.String("outbox.app_name", d.Outbox.AppName, "application name in outbox topics")
	f.Duration("outbox.retention", d.Outbox.Retention, "outbox record retention")
	f.String("outbox.topic_prefix", d.Outbox.TopicPrefix, "replaces <app>.outbox.event in topics")
}

// loadConfig resolves the configuration of cmd: flags over environment over
// config file over defaults.
func loadConfig(cmd *cobra.Command) (di.Config, error) {
	v := newViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return di.Config{}, err
	}
	return readConfig(v, cfgFile)
}

func readConfig(v *viper.Viper, file string) (di.Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return di.Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := di.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return di.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return di.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func redact(cfg di.Config) di.Config {
	if cfg.Storage.DSN != "" {
		cfg.Storage.DSN = "***"
	}
	return cfg
}
