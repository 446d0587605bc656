package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for the storage layer
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Strategy      StrategyConfig      `yaml:"strategy"`
	Backends      []BackendConfig     `yaml:"backends"`
	Cache         CacheConfig         `yaml:"cache"`
	Audit         AuditConfig         `yaml:"audit"`
	Versioning    VersioningConfig    `yaml:"versioning"`
	Policy        PolicyConfig        `yaml:"policy"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Health        HealthConfig        `yaml:"health"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Write strategies
const (
	StrategyWriteThrough = "write_through"
	StrategyWriteBehind  = "write_behind"
	StrategyWriteAround  = "write_around"
)

// StrategyConfig selects how writes propagate to backends
type StrategyConfig struct {
	Mode          string        `yaml:"mode"`
	FlushInterval time.Duration `yaml:"flush_interval"` // write-behind only
	MaxRetries    int           `yaml:"max_retries"`    // write-behind only
	RetryBackoff  time.Duration `yaml:"retry_backoff"`  // write-behind only
	MaxPending    int           `yaml:"max_pending"`    // write-behind only
}

// Backend types
const (
	BackendRedis     = "redis"
	BackendRegistry  = "registry"
	BackendConfigMap = "configmap"
)

// BackendConfig holds one backend adapter's configuration. Exactly one of
// the per-type sections applies, selected by Type.
type BackendConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`

	Redis     RedisConfig     `yaml:"redis"`
	Registry  RegistryConfig  `yaml:"registry"`
	ConfigMap ConfigMapConfig `yaml:"configmap"`
}

// RedisConfig holds Redis adapter configuration
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
	PoolSize    int    `yaml:"pool_size"`
	MaxVersions int    `yaml:"max_versions"`
}

// RegistryConfig holds OCI registry adapter configuration
type RegistryConfig struct {
	URL        string `yaml:"url"`
	Repository string `yaml:"repository"`
}

// ConfigMapConfig holds Kubernetes ConfigMap adapter configuration
type ConfigMapConfig struct {
	APIServer string `yaml:"api_server"`
	Namespace string `yaml:"namespace"`
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// CacheConfig holds read cache configuration
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxEntriesPerKey int           `yaml:"max_entries_per_key"`
	RetentionWindow  time.Duration `yaml:"retention_window"`
	StoreSnapshots   bool          `yaml:"store_snapshots"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// VersioningConfig holds version store configuration
type VersioningConfig struct {
	MaxVersionsPerKey int           `yaml:"max_versions_per_key"`
	MaxVersionAge     time.Duration `yaml:"max_version_age"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

// PolicyConfig holds policy decision cache configuration
type PolicyConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// NotificationsConfig holds async notification dispatch configuration
type NotificationsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// HealthConfig holds backend health probing configuration
type HealthConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	Port          int           `yaml:"port"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = StrategyWriteThrough
	}
	if cfg.Strategy.FlushInterval == 0 {
		cfg.Strategy.FlushInterval = 5 * time.Second
	}
	if cfg.Strategy.MaxRetries == 0 {
		cfg.Strategy.MaxRetries = 3
	}
	if cfg.Strategy.RetryBackoff == 0 {
		cfg.Strategy.RetryBackoff = time.Second
	}
	if cfg.Strategy.MaxPending == 0 {
		cfg.Strategy.MaxPending = 10000
	}

	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 10000
	}

	if cfg.Audit.MaxEntriesPerKey == 0 {
		cfg.Audit.MaxEntriesPerKey = 1000
	}
	if cfg.Audit.SweepInterval == 0 {
		cfg.Audit.SweepInterval = time.Minute
	}

	if cfg.Versioning.MaxVersionsPerKey == 0 {
		cfg.Versioning.MaxVersionsPerKey = 10
	}
	if cfg.Versioning.SweepInterval == 0 {
		cfg.Versioning.SweepInterval = time.Minute
	}

	if cfg.Policy.DefaultTTL == 0 {
		cfg.Policy.DefaultTTL = 5 * time.Minute
	}
	if cfg.Policy.SweepInterval == 0 {
		cfg.Policy.SweepInterval = 30 * time.Second
	}

	if cfg.Notifications.Workers == 0 {
		cfg.Notifications.Workers = 4
	}
	if cfg.Notifications.QueueSize == 0 {
		cfg.Notifications.QueueSize = 256
	}

	if cfg.Health.ProbeInterval == 0 {
		cfg.Health.ProbeInterval = 15 * time.Second
	}
	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 5 * time.Second
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8080
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	for i := range cfg.Backends {
		b := &cfg.Backends[i]
		if b.Timeout == 0 {
			b.Timeout = 5 * time.Second
		}
		if b.Name == "" {
			b.Name = b.Type
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.InstanceID == "" {
		return fmt.Errorf("server.instance_id is required")
	}

	switch c.Strategy.Mode {
	case StrategyWriteThrough, StrategyWriteBehind, StrategyWriteAround:
	default:
		return fmt.Errorf("strategy.mode must be one of %s, %s, %s",
			StrategyWriteThrough, StrategyWriteBehind, StrategyWriteAround)
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}

	names := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if names[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate backend name %q", i, b.Name)
		}
		names[b.Name] = true

		switch b.Type {
		case BackendRedis:
			if b.Redis.Addr == "" {
				return fmt.Errorf("backends[%d]: redis.addr is required", i)
			}
		case BackendRegistry:
			if b.Registry.URL == "" {
				return fmt.Errorf("backends[%d]: registry.url is required", i)
			}
		case BackendConfigMap:
			if b.ConfigMap.APIServer == "" {
				return fmt.Errorf("backends[%d]: configmap.api_server is required", i)
			}
		default:
			return fmt.Errorf("backends[%d]: unknown backend type %q", i, b.Type)
		}
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must not be negative")
	}
	return nil
}
