// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings except the database URL.
//
// # Configuration Structure
//
// Database settings:
//
//	WARDEN_DATABASE_URL="postgres://localhost/warden?sslmode=disable"
//	WARDEN_DB_DIALECT="postgres"  # postgres, sqlite3
//	WARDEN_DB_MAX_OPEN_CONNS="20"
//
// Permission evaluation settings:
//
//	WARDEN_CATALOG_FILE="/etc/warden/catalog.yaml"  # empty uses the built-in roles
//	WARDEN_CACHE_BACKEND="memory"  # none, memory, redis
//	WARDEN_CACHE_TTL="5m"
//	WARDEN_CACHE_SIZE="10000"
//	WARDEN_REDIS_URL="redis://localhost:6379"
//	WARDEN_REDIS_KEY_PREFIX="warden"
//
// Audit settings:
//
//	WARDEN_AUDIT_DATABASE="true"
//	WARDEN_AUDIT_LOG_PATH="/var/log/warden/audit"
//
// Observability settings:
//
//	WARDEN_LOG_LEVEL="info"  # debug, info, warn, error
//	WARDEN_METRICS_ENABLED="true"
//	WARDEN_OTEL_ENABLED="true"
//	WARDEN_OTEL_ENDPOINT="otel-collector:4317"
//	WARDEN_OTEL_SAMPLE_RATIO="0.1"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
//	cache, err := rbac.NewRedisCache(ctx, cfg.RedisCacheConfig())
//
// # Related Packages
//
//   - pkg/rbac: Uses database, catalog and cache configuration
//   - pkg/observability: Uses observability configuration
package config
