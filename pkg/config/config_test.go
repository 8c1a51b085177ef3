package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

var allEnvVars = []string{
	"WARDEN_DATABASE_URL",
	"WARDEN_DB_DIALECT",
	"WARDEN_DB_MAX_OPEN_CONNS",
	"WARDEN_DB_MAX_IDLE_CONNS",
	"WARDEN_DB_CONN_MAX_LIFETIME",
	"WARDEN_CATALOG_FILE",
	"WARDEN_CACHE_BACKEND",
	"WARDEN_CACHE_TTL",
	"WARDEN_CACHE_SIZE",
	"WARDEN_REDIS_URL",
	"WARDEN_REDIS_PASSWORD",
	"WARDEN_REDIS_DB",
	"WARDEN_REDIS_MAX_RETRIES",
	"WARDEN_REDIS_POOL_SIZE",
	"WARDEN_REDIS_KEY_PREFIX",
	"WARDEN_AUDIT_LOG_PATH",
	"WARDEN_AUDIT_ROTATE",
	"WARDEN_AUDIT_MAX_SIZE",
	"WARDEN_AUDIT_MAX_FILES",
	"WARDEN_AUDIT_DATABASE",
	"WARDEN_LOG_LEVEL",
	"WARDEN_METRICS_ENABLED",
	"WARDEN_METRICS_TEXTFILE",
	"WARDEN_OTEL_ENABLED",
	"WARDEN_OTEL_ENDPOINT",
	"WARDEN_OTEL_SERVICE_NAME",
	"WARDEN_OTEL_SERVICE_VERSION",
	"WARDEN_OTEL_INSECURE",
	"WARDEN_OTEL_SAMPLE_RATIO",
}

// clearEnv blanks every WARDEN_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allEnvVars {
		t.Setenv(k, "")
	}
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	clearEnv(t)
	for k, v := range env {
		t.Setenv(k, v)
	}
}

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "WARDEN_TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "WARDEN_TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{name: "true", envValue: "true", want: true},
		{name: "TRUE", envValue: "TRUE", want: true},
		{name: "1", envValue: "1", want: true},
		{name: "false", envValue: "false", defaultValue: true, want: false},
		{name: "garbage is false", envValue: "yes", defaultValue: true, want: false},
		{name: "unset uses default", envValue: "", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WARDEN_TEST_BOOL", tt.envValue)

			if got := getEnvBool("WARDEN_TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvNumbers tests the numeric helpers, which fall back on parse errors
func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("WARDEN_TEST_INT", "42")
	if got := getEnvInt("WARDEN_TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	t.Setenv("WARDEN_TEST_INT", "forty-two")
	if got := getEnvInt("WARDEN_TEST_INT", 1); got != 1 {
		t.Errorf("getEnvInt() = %v, want default 1", got)
	}

	t.Setenv("WARDEN_TEST_INT64", "9223372036854775807")
	if got := getEnvInt64("WARDEN_TEST_INT64", 0); got != 9223372036854775807 {
		t.Errorf("getEnvInt64() = %v, want max int64", got)
	}

	t.Setenv("WARDEN_TEST_FLOAT", "0.25")
	if got := getEnvFloat("WARDEN_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	t.Setenv("WARDEN_TEST_FLOAT", "quarter")
	if got := getEnvFloat("WARDEN_TEST_FLOAT", 1); got != 1 {
		t.Errorf("getEnvFloat() = %v, want default 1", got)
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "minutes", envValue: "5m", want: 5 * time.Minute},
		{name: "compound", envValue: "1h30m", want: 90 * time.Minute},
		{name: "invalid uses default", envValue: "soon", want: time.Second},
		{name: "unset uses default", envValue: "", want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WARDEN_TEST_DURATION", tt.envValue)

			if got := getEnvDuration("WARDEN_TEST_DURATION", time.Second); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadDatabaseConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		got := loadDatabaseConfig()
		if got.Dialect != rbac.DialectPostgres {
			t.Errorf("Dialect = %v, want postgres", got.Dialect)
		}
		if got.MaxOpenConns != 20 || got.MaxIdleConns != 5 {
			t.Errorf("pool = %d/%d, want 20/5", got.MaxOpenConns, got.MaxIdleConns)
		}
		if got.ConnMaxLifetime != 30*time.Minute {
			t.Errorf("ConnMaxLifetime = %v, want 30m", got.ConnMaxLifetime)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		setEnv(t, map[string]string{
			"WARDEN_DATABASE_URL":      "file:warden.db",
			"WARDEN_DB_DIALECT":        "SQLITE3",
			"WARDEN_DB_MAX_OPEN_CONNS": "1",
		})
		got := loadDatabaseConfig()
		if got.URL != "file:warden.db" {
			t.Errorf("URL = %v", got.URL)
		}
		if got.Dialect != rbac.DialectSQLite {
			t.Errorf("Dialect = %v, want sqlite3", got.Dialect)
		}
		if got.MaxOpenConns != 1 {
			t.Errorf("MaxOpenConns = %v, want 1", got.MaxOpenConns)
		}
	})
}

func TestLoadRBACConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		got := loadRBACConfig()
		if got.CacheBackend != CacheBackendMemory {
			t.Errorf("CacheBackend = %v, want memory", got.CacheBackend)
		}
		if got.CacheTTL != rbac.DefaultCacheTTL {
			t.Errorf("CacheTTL = %v, want %v", got.CacheTTL, rbac.DefaultCacheTTL)
		}
		if got.CacheSize != 10000 {
			t.Errorf("CacheSize = %v, want 10000", got.CacheSize)
		}
		if got.CatalogFile != "" {
			t.Errorf("CatalogFile = %v, want empty", got.CatalogFile)
		}
	})

	t.Run("redis", func(t *testing.T) {
		setEnv(t, map[string]string{
			"WARDEN_CACHE_BACKEND":    "Redis",
			"WARDEN_CACHE_TTL":        "30s",
			"WARDEN_REDIS_URL":        "redis://cache:6379/2",
			"WARDEN_REDIS_KEY_PREFIX": "portal",
		})
		cfg := &Config{RBAC: loadRBACConfig(), Redis: loadRedisConfig()}
		if cfg.RBAC.CacheBackend != CacheBackendRedis {
			t.Errorf("CacheBackend = %v, want redis", cfg.RBAC.CacheBackend)
		}
		if cfg.RBAC.CacheTTL != 30*time.Second {
			t.Errorf("CacheTTL = %v, want 30s", cfg.RBAC.CacheTTL)
		}

		rc := cfg.RedisCacheConfig()
		if rc.URL != "redis://cache:6379/2" || rc.KeyPrefix != "portal" {
			t.Errorf("RedisCacheConfig() = %+v", rc)
		}
		if rc.MaxRetries != 3 || rc.PoolSize != 10 {
			t.Errorf("RedisCacheConfig() retries/pool = %d/%d, want 3/10", rc.MaxRetries, rc.PoolSize)
		}
	})
}

func TestLoadAuditConfig(t *testing.T) {
	setEnv(t, map[string]string{
		"WARDEN_AUDIT_LOG_PATH": "/var/log/warden",
		"WARDEN_AUDIT_DATABASE": "false",
		"WARDEN_AUDIT_ROTATE":   "false",
	})
	got := loadAuditConfig()
	if got.LogPath != "/var/log/warden" {
		t.Errorf("LogPath = %v", got.LogPath)
	}
	if got.Database {
		t.Error("Database = true, want false")
	}
	if got.Rotate {
		t.Error("Rotate = true, want false")
	}
	if got.MaxSize != 100*1024*1024 || got.MaxFiles != 10 {
		t.Errorf("MaxSize/MaxFiles = %d/%d", got.MaxSize, got.MaxFiles)
	}
}

func TestLoadObservabilityConfig(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ObservabilityConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: ObservabilityConfig{
				LogLevel:           observability.InfoLevel,
				MetricsEnabled:     true,
				OTelEnabled:        false,
				OTelEndpoint:       "localhost:4317",
				OTelServiceName:    "warden",
				OTelServiceVersion: "1.0.0",
				OTelInsecure:       true,
				OTelSampleRatio:    1.0,
			},
		},
		{
			name: "custom values",
			env: map[string]string{
				"WARDEN_LOG_LEVEL":            "debug",
				"WARDEN_METRICS_ENABLED":      "false",
				"WARDEN_METRICS_TEXTFILE":     "/var/lib/node_exporter/warden.prom",
				"WARDEN_OTEL_ENABLED":         "true",
				"WARDEN_OTEL_ENDPOINT":        "otel-collector:4317",
				"WARDEN_OTEL_SERVICE_NAME":    "portal-authz",
				"WARDEN_OTEL_SERVICE_VERSION": "2.0.0",
				"WARDEN_OTEL_INSECURE":        "false",
				"WARDEN_OTEL_SAMPLE_RATIO":    "0.1",
			},
			want: ObservabilityConfig{
				LogLevel:           observability.DebugLevel,
				MetricsEnabled:     false,
				MetricsTextfile:    "/var/lib/node_exporter/warden.prom",
				OTelEnabled:        true,
				OTelEndpoint:       "otel-collector:4317",
				OTelServiceName:    "portal-authz",
				OTelServiceVersion: "2.0.0",
				OTelInsecure:       false,
				OTelSampleRatio:    0.1,
			},
		},
		{
			name: "unknown level falls back to info",
			env:  map[string]string{"WARDEN_LOG_LEVEL": "verbose"},
			want: ObservabilityConfig{
				LogLevel:           observability.InfoLevel,
				MetricsEnabled:     true,
				OTelEndpoint:       "localhost:4317",
				OTelServiceName:    "warden",
				OTelServiceVersion: "1.0.0",
				OTelInsecure:       true,
				OTelSampleRatio:    1.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			got := loadObservabilityConfig()
			if got != tt.want {
				t.Errorf("loadObservabilityConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{URL: "postgres://localhost/warden", Dialect: rbac.DialectPostgres},
		RBAC:     RBACConfig{CacheBackend: CacheBackendMemory, CacheTTL: time.Minute, CacheSize: 100},
	}
}

// TestConfigValidate tests the Config.Validate method
func TestConfigValidate(t *testing.T) {
	catalog := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(catalog, []byte("roles: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database URL",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "unknown dialect",
			mutate:  func(c *Config) { c.Database.Dialect = "mysql" },
			wantErr: "invalid database dialect",
		},
		{
			name:   "sqlite dialect",
			mutate: func(c *Config) { c.Database.Dialect = rbac.DialectSQLite },
		},
		{
			name:   "cache disabled ignores TTL",
			mutate: func(c *Config) { c.RBAC = RBACConfig{CacheBackend: CacheBackendNone} },
		},
		{
			name:    "memory cache needs TTL",
			mutate:  func(c *Config) { c.RBAC.CacheTTL = 0 },
			wantErr: "cache TTL must be positive",
		},
		{
			name:    "memory cache needs size",
			mutate:  func(c *Config) { c.RBAC.CacheSize = 0 },
			wantErr: "cache size must be positive",
		},
		{
			name:    "redis cache needs URL",
			mutate:  func(c *Config) { c.RBAC.CacheBackend = CacheBackendRedis },
			wantErr: "redis URL is required",
		},
		{
			name: "redis cache",
			mutate: func(c *Config) {
				c.RBAC.CacheBackend = CacheBackendRedis
				c.Redis.URL = "redis://localhost:6379"
			},
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.RBAC.CacheBackend = "memcached" },
			wantErr: "invalid cache backend",
		},
		{
			name:   "existing catalog file",
			mutate: func(c *Config) { c.RBAC.CatalogFile = catalog },
		},
		{
			name:    "missing catalog file",
			mutate:  func(c *Config) { c.RBAC.CatalogFile = filepath.Join(t.TempDir(), "nope.yaml") },
			wantErr: "catalog file",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "warden"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
		{
			name: "otel without service name",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "localhost:4317"
			},
			wantErr: "OpenTelemetry service name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestOTelConfig(t *testing.T) {
	cfg := Config{Observability: ObservabilityConfig{
		OTelEnabled:        true,
		OTelEndpoint:       "collector:4317",
		OTelServiceName:    "warden",
		OTelServiceVersion: "3.1.0",
		OTelInsecure:       true,
		OTelSampleRatio:    0.5,
	}}

	got := cfg.OTelConfig()
	want := observability.OTelConfig{
		Enabled:        true,
		Endpoint:       "collector:4317",
		ServiceName:    "warden",
		ServiceVersion: "3.1.0",
		Insecure:       true,
		SampleRatio:    0.5,
	}
	if got != want {
		t.Errorf("OTelConfig() = %+v, want %+v", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid config",
			env: map[string]string{
				"WARDEN_DATABASE_URL": "postgres://localhost/warden?sslmode=disable",
			},
		},
		{
			name: "valid sqlite config without cache",
			env: map[string]string{
				"WARDEN_DATABASE_URL":  "file:warden.db",
				"WARDEN_DB_DIALECT":    "sqlite3",
				"WARDEN_CACHE_BACKEND": "none",
			},
		},
		{
			name:    "invalid config - no database",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name: "invalid config - redis without URL",
			env: map[string]string{
				"WARDEN_DATABASE_URL":  "postgres://localhost/warden",
				"WARDEN_CACHE_BACKEND": "redis",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			cfg, err := LoadConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadConfig() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && cfg == nil {
				t.Error("LoadConfig() returned nil config without error")
			}
		})
	}
}
