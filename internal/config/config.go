// Package config implements the Configuration component (C14): a YAML
// file plus ERYX_*-prefixed environment variable overrides, grouped
// per concern the way the teacher's internal/config/config.go groups
// Firecracker/Docker/Pool/Observability settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig controls the Engine Pool (C1).
type EngineConfig struct {
	EpochTickInterval time.Duration `yaml:"epoch_tick_interval"`
	EnableFuel        bool          `yaml:"enable_fuel"`
}

// CacheConfig controls the Component Cache (C5).
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	MaxSize int64  `yaml:"max_size_bytes"`
}

// PoolConfig holds the pre-spawn pool settings (max pre-warm instances,
// idle TTL). They are loaded from file and env; the Sandbox Factory (C6)
// does not read them and keeps no pre-spawned instances.
type PoolConfig struct {
	MaxPreWarmInstances int           `yaml:"max_prewarm_instances"`
	IdleTTL             time.Duration `yaml:"idle_ttl"`
}

// NetworkPolicyConfig holds default network Policy (C12) settings. They
// are loaded from file and env; no Builder or Sandbox reads them, so a
// sandbox without its own Policy gets none from here.
type NetworkPolicyConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxConnections int           `yaml:"max_connections"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	IOTimeout      time.Duration `yaml:"io_timeout"`
	AllowedHosts   []string      `yaml:"allowed_hosts"`
	BlockedHosts   []string      `yaml:"blocked_hosts"`
}

// SecretsConfig controls the placeholder/scrubber subsystem (C13).
type SecretsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MasterKey     string `yaml:"master_key"`
	MasterKeyFile string `yaml:"master_key_file"`
}

// LoggingConfig controls the structured logger (C15).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig controls Prometheus registration (C16).
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TracingConfig controls the OTel tracer provider (C17).
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http (or otlp), stdout
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Limits is the process-wide default resource budget loaded from file
// and env. Only ExecutionTimeout is read, by cmd/eryxctl as its default
// run timeout; the Builder does not apply these fields to Sandboxes or
// Sessions.
type Limits struct {
	MemoryBytes      int64         `yaml:"memory_bytes"`
	Fuel              uint64        `yaml:"fuel"`
	ExecutionTimeout  time.Duration `yaml:"execution_timeout"`
	CallbackTimeout   time.Duration `yaml:"callback_timeout"`
	MaxCallbacks      int64         `yaml:"max_callbacks"`
}

// Config is the top-level configuration struct, one field per concern.
type Config struct {
	Engine        EngineConfig        `yaml:"engine"`
	Cache         CacheConfig         `yaml:"cache"`
	Pool          PoolConfig          `yaml:"pool"`
	NetworkPolicy NetworkPolicyConfig `yaml:"network_policy"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Limits        Limits              `yaml:"limits"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// teacher's DefaultConfig shape.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			EpochTickInterval: 10 * time.Millisecond,
			EnableFuel:        true,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     "/tmp/eryx/cache",
			MaxSize: 1 << 30, // 1GiB
		},
		Pool: PoolConfig{
			MaxPreWarmInstances: 0,
			IdleTTL:             60 * time.Second,
		},
		NetworkPolicy: NetworkPolicyConfig{
			Enabled:        false,
			MaxConnections: 8,
			ConnectTimeout: 10 * time.Second,
			IOTimeout:      30 * time.Second,
		},
		Secrets: SecretsConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "eryx",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "eryx",
			SampleRate:  1.0,
		},
		Limits: Limits{
			ExecutionTimeout: 30 * time.Second,
		},
	}
}

// Load reads path as YAML over DefaultConfig, then applies ERYX_*
// environment overrides, mirroring the teacher's LoadFromFile +
// LoadFromEnv layering. path == "" skips the file and returns defaults
// plus env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ERYX_ENGINE_EPOCH_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.EpochTickInterval = d
		}
	}
	if v := os.Getenv("ERYX_ENGINE_ENABLE_FUEL"); v != "" {
		cfg.Engine.EnableFuel = parseBool(v)
	}

	if v := os.Getenv("ERYX_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("ERYX_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("ERYX_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Cache.MaxSize = n
		}
	}

	if v := os.Getenv("ERYX_POOL_MAX_PREWARM_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxPreWarmInstances = n
		}
	}
	if v := os.Getenv("ERYX_POOL_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pool.IdleTTL = d
		}
	}

	if v := os.Getenv("ERYX_NETWORK_POLICY_ENABLED"); v != "" {
		cfg.NetworkPolicy.Enabled = parseBool(v)
	}
	if v := os.Getenv("ERYX_NETWORK_POLICY_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NetworkPolicy.MaxConnections = n
		}
	}
	if v := os.Getenv("ERYX_NETWORK_POLICY_ALLOWED_HOSTS"); v != "" {
		cfg.NetworkPolicy.AllowedHosts = strings.Split(v, ",")
	}
	if v := os.Getenv("ERYX_NETWORK_POLICY_BLOCKED_HOSTS"); v != "" {
		cfg.NetworkPolicy.BlockedHosts = strings.Split(v, ",")
	}

	if v := os.Getenv("ERYX_SECRETS_ENABLED"); v != "" {
		cfg.Secrets.Enabled = parseBool(v)
	}
	if v := os.Getenv("ERYX_SECRETS_MASTER_KEY"); v != "" {
		cfg.Secrets.MasterKey = v
		cfg.Secrets.Enabled = true
	}
	if v := os.Getenv("ERYX_SECRETS_MASTER_KEY_FILE"); v != "" {
		cfg.Secrets.MasterKeyFile = v
	}

	if v := os.Getenv("ERYX_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ERYX_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ERYX_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("ERYX_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("ERYX_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("ERYX_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("ERYX_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("ERYX_TRACING_SERVICE_NAME"); v != "" {
		cfg.Tracing.ServiceName = v
	}
	if v := os.Getenv("ERYX_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}

	if v := os.Getenv("ERYX_LIMITS_MEMORY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MemoryBytes = n
		}
	}
	if v := os.Getenv("ERYX_LIMITS_FUEL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Limits.Fuel = n
		}
	}
	if v := os.Getenv("ERYX_LIMITS_EXECUTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Limits.ExecutionTimeout = d
		}
	}
	if v := os.Getenv("ERYX_LIMITS_CALLBACK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Limits.CallbackTimeout = d
		}
	}
	if v := os.Getenv("ERYX_LIMITS_MAX_CALLBACKS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxCallbacks = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
