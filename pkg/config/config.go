package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Cache backends
const (
	CacheBackendNone   = "none"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// RBAC engine configuration
	RBAC RBACConfig

	// Redis configuration, used when RBAC.CacheBackend is "redis"
	Redis RedisConfig

	// Audit configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	Dialect         rbac.Dialect
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RBACConfig holds permission evaluation settings
type RBACConfig struct {
	// CatalogFile replaces the built-in catalog with a YAML file when set.
	CatalogFile  string
	CacheBackend string
	CacheTTL     time.Duration
	CacheSize    int
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// AuditConfig holds audit sink settings
type AuditConfig struct {
	// LogPath enables the JSON-lines file sink when non-empty.
	LogPath  string
	Rotate   bool
	MaxSize  int64
	MaxFiles int

	// Database enables the audit_events table sink.
	Database bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
	// MetricsTextfile is written on exit for the node_exporter textfile
	// collector, since CLI runs are too short to scrape.
	MetricsTextfile string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:      loadDatabaseConfig(),
		RBAC:          loadRBACConfig(),
		Redis:         loadRedisConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("WARDEN_DATABASE_URL", ""),
		Dialect:         rbac.Dialect(strings.ToLower(getEnv("WARDEN_DB_DIALECT", string(rbac.DialectPostgres)))),
		MaxOpenConns:    getEnvInt("WARDEN_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("WARDEN_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("WARDEN_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

// loadRBACConfig loads permission evaluation configuration from environment
func loadRBACConfig() RBACConfig {
	return RBACConfig{
		CatalogFile:  getEnv("WARDEN_CATALOG_FILE", ""),
		CacheBackend: strings.ToLower(getEnv("WARDEN_CACHE_BACKEND", CacheBackendMemory)),
		CacheTTL:     getEnvDuration("WARDEN_CACHE_TTL", rbac.DefaultCacheTTL),
		CacheSize:    getEnvInt("WARDEN_CACHE_SIZE", 10000),
	}
}

// loadRedisConfig loads redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("WARDEN_REDIS_URL", ""),
		Password:   getEnv("WARDEN_REDIS_PASSWORD", ""),
		DB:         getEnvInt("WARDEN_REDIS_DB", 0),
		MaxRetries: getEnvInt("WARDEN_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("WARDEN_REDIS_POOL_SIZE", 10),
		KeyPrefix:  getEnv("WARDEN_REDIS_KEY_PREFIX", "warden"),
	}
}

// loadAuditConfig loads audit configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		LogPath:  getEnv("WARDEN_AUDIT_LOG_PATH", ""),
		Rotate:   getEnvBool("WARDEN_AUDIT_ROTATE", true),
		MaxSize:  getEnvInt64("WARDEN_AUDIT_MAX_SIZE", 100*1024*1024),
		MaxFiles: getEnvInt("WARDEN_AUDIT_MAX_FILES", 10),
		Database: getEnvBool("WARDEN_AUDIT_DATABASE", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	level, _ := observability.ParseLogLevel(getEnv("WARDEN_LOG_LEVEL", "info"))
	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("WARDEN_METRICS_ENABLED", true),
		MetricsTextfile:    getEnv("WARDEN_METRICS_TEXTFILE", ""),
		OTelEnabled:        getEnvBool("WARDEN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("WARDEN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("WARDEN_OTEL_SERVICE_NAME", observability.DefaultServiceName),
		OTelServiceVersion: getEnv("WARDEN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("WARDEN_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("WARDEN_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate database config
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	switch c.Database.Dialect {
	case rbac.DialectPostgres, rbac.DialectSQLite:
	default:
		return fmt.Errorf("invalid database dialect: %s (must be postgres or sqlite3)", c.Database.Dialect)
	}

	// Validate cache config
	switch c.RBAC.CacheBackend {
	case CacheBackendNone:
	case CacheBackendMemory:
		if c.RBAC.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive for the memory cache")
		}
		if c.RBAC.CacheSize <= 0 {
			return fmt.Errorf("cache size must be positive for the memory cache")
		}
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis cache")
		}
		if c.RBAC.CacheTTL <= 0 {
			return fmt.Errorf("cache TTL must be positive for the redis cache")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, or redis)", c.RBAC.CacheBackend)
	}

	if c.RBAC.CatalogFile != "" {
		if _, err := os.Stat(c.RBAC.CatalogFile); err != nil {
			return fmt.Errorf("catalog file: %w", err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTelConfig converts the observability settings for observability.InitOTel.
func (c *Config) OTelConfig() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// RedisCacheConfig converts the redis settings for rbac.NewRedisCache.
func (c *Config) RedisCacheConfig() rbac.RedisCacheConfig {
	return rbac.RedisCacheConfig{
		URL:        c.Redis.URL,
		Password:   c.Redis.Password,
		DB:         c.Redis.DB,
		MaxRetries: c.Redis.MaxRetries,
		PoolSize:   c.Redis.PoolSize,
		KeyPrefix:  c.Redis.KeyPrefix,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
