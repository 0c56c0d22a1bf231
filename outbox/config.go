package outbox

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	// DefaultAppName prefixes topics when no application name is configured.
	DefaultAppName = "default"
	// DefaultRetention is how long outbox records are kept before expiry.
	DefaultRetention = 365 * 24 * time.Hour

	topicInfix = ".outbox.event."
)

// Config controls outbox record construction.
type Config struct {
	AppName   string        `mapstructure:"app_name"`
	Retention time.Duration `mapstructure:"retention"`
	// TopicPrefix replaces "<AppName>.outbox.event" in generated topics.
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{AppName: DefaultAppName, Retention: DefaultRetention}
}

func (c Config) withDefaults() Config {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AppName, validation.Required),
		validation.Field(&c.Retention, validation.Required, validation.Min(time.Second)),
	)
}

// Topic returns the default topic for aggregateType.
func (c Config) Topic(aggregateType string) string {
	if c.TopicPrefix != "" {
		return c.TopicPrefix + "." + aggregateType
	}
	return c.AppName + topicInfix + aggregateType
}
