// Package config handles configuration loading for alertflow.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Redis       RedisConfig       `yaml:"redis"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Workers     WorkersConfig     `yaml:"workers"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Delegate    DelegateConfig    `yaml:"delegate"`
	Provider    ProviderConfig    `yaml:"provider"`
	BatchWriter BatchWriterConfig `yaml:"batch_writer"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KafkaConfig holds consumer defaults applied to every source unless the
// source config overrides them.
type KafkaConfig struct {
	FetchMaxWait      time.Duration `yaml:"fetch_max_wait"`
	FetchMinBytes     int           `yaml:"fetch_min_bytes"`
	FetchMaxBytes     int           `yaml:"fetch_max_bytes"`
	MaxBatchRecords   int           `yaml:"max_batch_records"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RebalanceTimeout  time.Duration `yaml:"rebalance_timeout"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	StopGracePeriod   time.Duration `yaml:"stop_grace_period"`
}

// ClickHouseConfig holds analytical store connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// RedisConfig holds connection settings for the rule/config provider and the
// observable store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// ArchiveConfig holds raw-record S3 archival settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// WorkersConfig sizes the shared pool running async extraction, storage,
// archive and correlation jobs.
type WorkersConfig struct {
	Count        int           `yaml:"count"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// ReconcileConfig controls the consumer manager's reconciliation cycle.
type ReconcileConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DelegateConfig holds the optional external compute delegate endpoint.
type DelegateConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ProbeCache   time.Duration `yaml:"probe_cache"`
}

// ProviderConfig controls rule/config snapshot polling.
type ProviderConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// BatchWriterConfig holds analytical-store batch writer settings.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// MetricsConfig holds the Prometheus exposition endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Kafka: KafkaConfig{
			FetchMaxWait:      500 * time.Millisecond,
			FetchMinBytes:     1,
			FetchMaxBytes:     10 * 1024 * 1024,
			MaxBatchRecords:   500,
			SessionTimeout:    30 * time.Second,
			HeartbeatInterval: 3 * time.Second,
			RebalanceTimeout:  60 * time.Second,
			DialTimeout:       10 * time.Second,
			StopGracePeriod:   10 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Hosts:           []string{"localhost:9000"},
			Database:        "alertflow",
			Username:        "default",
			Password:        "",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			TLSEnabled:      false,
			DialTimeout:     10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Prefix:        "raw",
			Region:        "us-east-1",
			BatchSize:     1000,
			FlushInterval: 30 * time.Second,
		},
		Workers: WorkersConfig{
			Count:        8,
			QueueSize:    10000,
			PollInterval: 10 * time.Millisecond,
			ShutdownWait: 30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Interval:        30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Delegate: DelegateConfig{
			Enabled:      false,
			BaseURL:      "http://localhost:9010",
			Timeout:      10 * time.Second,
			ProbeTimeout: 2 * time.Second,
			ProbeCache:   15 * time.Second,
		},
		Provider: ProviderConfig{
			CacheTTL: 30 * time.Second,
		},
		BatchWriter: BatchWriterConfig{
			BatchSize:     1000,
			FlushInterval: 5 * time.Second,
			MaxRetries:    3,
			RetryDelay:    time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load loads configuration from a file or returns defaults. Secrets may be
// overridden through environment variables after the file is merged.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("ALERTFLOW_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("ALERTFLOW_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("ALERTFLOW_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ALERTFLOW_S3_ACCESS_KEY"); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv("ALERTFLOW_S3_SECRET_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
	if v := os.Getenv("ALERTFLOW_DELEGATE_API_KEY"); v != "" {
		c.Delegate.APIKey = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if len(c.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("config: at least one clickhouse host is required")
	}
	if c.ClickHouse.Database == "" {
		return fmt.Errorf("config: clickhouse database is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis addr is required")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("config: workers count must be at least 1")
	}
	if c.Workers.QueueSize < 1 {
		return fmt.Errorf("config: workers queue size must be at least 1")
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("config: reconcile interval must be positive")
	}
	if c.Kafka.MaxBatchRecords < 1 {
		return fmt.Errorf("config: kafka max batch records must be at least 1")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive bucket is required when archive is enabled")
	}
	if c.Delegate.Enabled && c.Delegate.BaseURL == "" {
		return fmt.Errorf("config: delegate base_url is required when delegate is enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log level: %s", c.Logging.Level)
	}
	return nil
}
