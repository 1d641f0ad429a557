// Package config loads the configuration of the ledgerd daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backends supported by the daemon.
const (
	PostgreSQL = "postgres"
	SQLite     = "sqlite"
	BoltDB     = "bolt"
	MongoDB    = "mongo"
)

// Lock policies supported by the daemon.
const (
	PolicyFail  = "fail"
	PolicySkip  = "skip"
	PolicyRetry = "retry"
)

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type StoreConfig struct {
	Name     string `mapstructure:"name"`
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type ConsumerConfig struct {
	InstanceID     string        `mapstructure:"instance_id"`
	ProcessorID    string        `mapstructure:"processor_id"`
	Partition      string        `mapstructure:"partition"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockPolicy     string        `mapstructure:"lock_policy"`
	LockAttempts   int           `mapstructure:"lock_attempts"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	FromBeginning  bool          `mapstructure:"from_beginning"`
}

type FeedConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

type LogConfig struct {
	Debug       bool `mapstructure:"debug"`
	Development bool `mapstructure:"development"`
}

type TracingConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Stdout      bool   `mapstructure:"stdout"`
}

// Load reads the configuration file at path, if any, and applies overrides
// from LEDGER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ledger")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv() can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.name", "ledger")
	v.SetDefault("store.backend", SQLite)
	v.SetDefault("store.dsn", "file:ledger.db?_pragma=busy_timeout(5000)")
	v.SetDefault("store.path", "ledger.boltdb")
	v.SetDefault("store.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("store.database", "ledger")

	v.SetDefault("consumer.instance_id", "")
	v.SetDefault("consumer.processor_id", "ledgerd.log")
	v.SetDefault("consumer.partition", "")
	v.SetDefault("consumer.lock_timeout", 30*time.Second)
	v.SetDefault("consumer.lock_policy", PolicyRetry)
	v.SetDefault("consumer.lock_attempts", 0)
	v.SetDefault("consumer.handler_timeout", time.Duration(0))
	v.SetDefault("consumer.concurrency", 1)
	v.SetDefault("consumer.from_beginning", false)

	v.SetDefault("feed.batch_size", 100)
	v.SetDefault("feed.max_attempts", 0)

	v.SetDefault("log.debug", false)
	v.SetDefault("log.development", false)

	v.SetDefault("tracing.service_name", "ledgerd")
	v.SetDefault("tracing.stdout", false)
}

// Validate returns an error if c is not usable.
func (c Config) Validate() error {
	if c.Store.Name == "" {
		return errors.New("store.name is required")
	}

	switch c.Store.Backend {
	case PostgreSQL, SQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required by the %s backend", c.Store.Backend)
		}
	case BoltDB:
		if c.Store.Path == "" {
			return errors.New("store.path is required by the bolt backend")
		}
	case MongoDB:
		if c.Store.URI == "" {
			return errors.New("store.uri is required by the mongo backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}

	if c.Consumer.ProcessorID == "" {
		return errors.New("consumer.processor_id is required")
	}

	switch c.Consumer.LockPolicy {
	case PolicyFail, PolicySkip, PolicyRetry:
	default:
		return fmt.Errorf("consumer.lock_policy %q is not supported", c.Consumer.LockPolicy)
	}

	if c.Consumer.LockTimeout <= 0 {
		return errors.New("consumer.lock_timeout must be positive")
	}

	if c.Consumer.LockAttempts < 0 {
		return errors.New("consumer.lock_attempts must not be negative")
	}

	if c.Consumer.HandlerTimeout < 0 {
		return errors.New("consumer.handler_timeout must not be negative")
	}

	if c.Consumer.Concurrency < 1 {
		return errors.New("consumer.concurrency must be at least 1")
	}

	if c.Feed.BatchSize < 1 {
		return errors.New("feed.batch_size must be at least 1")
	}

	return nil
}
