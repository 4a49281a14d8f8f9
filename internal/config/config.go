// Package config loads ingest service configuration from defaults, an
// optional YAML file, and INGEST_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Transport  TransportConfig  `mapstructure:"transport"`
	Topic      TopicConfig      `mapstructure:"topic"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Health     HealthConfig     `mapstructure:"health"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type TransportConfig struct {
	Backend           string        `mapstructure:"backend"`
	BrokerURL         string        `mapstructure:"broker_url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	ClientIDPrefix    string        `mapstructure:"client_id_prefix"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RequiredForHealth bool          `mapstructure:"required_for_health"`
}

type TopicConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type PipelineConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBase     time.Duration `mapstructure:"retry_base"`
	IngestSource  string        `mapstructure:"ingest_source"`
}

type DeadLetterConfig struct {
	Path     string `mapstructure:"path"`
	MaxBytes int    `mapstructure:"max_bytes"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HealthConfig struct {
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("transport.backend", "mqtt")
	v.SetDefault("transport.client_id_prefix", "apatte-ingest-")
	v.SetDefault("transport.connect_timeout", "10s")
	v.SetDefault("transport.required_for_health", true)
	v.SetDefault("topic.namespace", "apatte")
	v.SetDefault("pipeline.batch_size", 200)
	v.SetDefault("pipeline.flush_interval", "250ms")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.retry_base", "250ms")
	v.SetDefault("pipeline.ingest_source", "mqtt-ingest")
	v.SetDefault("deadletter.path", "var/deadletter.ndjson")
	v.SetDefault("deadletter.max_bytes", 4096)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "10m")
	v.SetDefault("health.staleness_window", "60s")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/apatte/ingest")
	}

	// Environment variables override
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the required settings. The service fails fast at startup
// rather than discovering a missing broker or database mid-pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Transport.BrokerURL == "" {
		errs = append(errs, errors.New("transport.broker_url is required"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Transport.Backend {
	case "mqtt", "nats":
	default:
		errs = append(errs, fmt.Errorf("transport.backend %q is not supported (mqtt, nats)", c.Transport.Backend))
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not supported (memory, redis)", c.Cache.Backend))
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, errors.New("pipeline.batch_size must be positive"))
	}
	return errors.Join(errs...)
}

// StorageConfigured reports whether storage credentials are present, used
// by the health evaluation.
func (c *Config) StorageConfigured() bool {
	return c.Database.URL != ""
}
