package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage and event backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the fulfillment engine
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FULFILLMENT_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"FULFILLMENT_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Execution store
	Storage StorageConfig

	// Audit event log
	Events EventsConfig

	// Redis configuration
	Redis RedisConfig

	// Postgres configuration
	Postgres PostgresConfig

	// External systems
	Collaborators CollaboratorsConfig

	// Extra workflow templates
	Templates TemplatesConfig

	// Worker configuration
	Workers WorkerConfig

	// Timeouts
	Timeouts TimeoutConfig

	Tracing TracingConfig
}

// StorageConfig selects the execution store
type StorageConfig struct {
	Backend string `env:"FULFILLMENT_STORAGE_BACKEND" envDefault:"memory"`
	// RedisTTL expires execution records kept in Redis. Zero keeps them forever.
	RedisTTL time.Duration `env:"FULFILLMENT_STORAGE_REDIS_TTL" envDefault:"0s"`
}

// EventsConfig selects the event bus
type EventsConfig struct {
	Backend       string `env:"FULFILLMENT_EVENTS_BACKEND" envDefault:"memory"`
	StreamMaxLen  int64  `env:"FULFILLMENT_EVENTS_STREAM_MAXLEN" envDefault:"100000"`
	ConsumerGroup string `env:"FULFILLMENT_EVENTS_CONSUMER_GROUP"`
	ConsumerName  string `env:"FULFILLMENT_EVENTS_CONSUMER_NAME" envDefault:"fulfillment"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig holds Postgres connection configuration
type PostgresConfig struct {
	URL      string `env:"POSTGRES_URL"`
	MaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
}

// CollaboratorsConfig selects the collaborator implementations
type CollaboratorsConfig struct {
	Provider     string `env:"FULFILLMENT_COLLABORATORS" envDefault:"memory"`
	SeedFile     string `env:"FULFILLMENT_SEED_FILE"`
	LabelBaseURL string `env:"FULFILLMENT_LABEL_BASE_URL"`
}

// TemplatesConfig points at a YAML file of templates registered next to the built-in ones
type TemplatesConfig struct {
	File string `env:"FULFILLMENT_TEMPLATES_FILE"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	MaxRetries          int           `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	RetryDelay          time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"5s"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ExecutionTimeout time.Duration `env:"TIMEOUT_EXECUTION" envDefault:"24h"`
	StepTimeout      time.Duration `env:"TIMEOUT_STEP" envDefault:"30s"`
	MaxStepTimeout   time.Duration `env:"TIMEOUT_STEP_MAX" envDefault:"30m"`
	ShutdownTimeout  time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled bool `env:"TRACING_ENABLED" envDefault:"false"`
	// OutputFile receives spans as JSON lines; empty writes to stdout.
	OutputFile string `env:"TRACING_OUTPUT_FILE"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}
	if c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("HTTP and gRPC ports must differ: %d", c.HTTPPort)
	}

	// Validate backends
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("unsupported storage backend: %s (must be memory, redis or postgres)", c.Storage.Backend)
	}
	switch c.Events.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported events backend: %s (must be memory or redis)", c.Events.Backend)
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Storage.Backend == BackendPostgres && c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required for the postgres storage backend")
	}
	if c.Events.ConsumerGroup != "" && c.Events.ConsumerName == "" {
		return fmt.Errorf("consumer name is required with a consumer group")
	}

	// Validate worker config
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.MaxRetries < 0 {
		return fmt.Errorf("worker max retries must not be negative")
	}

	// Validate timeouts
	if c.Timeouts.ExecutionTimeout < 0 || c.Timeouts.StepTimeout < 0 || c.Timeouts.MaxStepTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Timeouts.MaxStepTimeout > 0 && c.Timeouts.StepTimeout > c.Timeouts.MaxStepTimeout {
		return fmt.Errorf("step timeout %s exceeds max step timeout %s", c.Timeouts.StepTimeout, c.Timeouts.MaxStepTimeout)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// NeedsRedis reports whether any backend talks to Redis
func (c *Config) NeedsRedis() bool {
	return c.Storage.Backend == BackendRedis || c.Events.Backend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
