package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	// Dialect selects the migration flavour.
	Dialect Dialect

	// Catalog resolves role names to permissions. Nil means BuiltInCatalog.
	Catalog *Catalog

	// CacheTTL bounds how long a resolved role set is reused. Zero disables
	// caching.
	CacheTTL time.Duration

	// CacheSize bounds the in-process cache when Cache is nil.
	CacheSize int

	// Cache overrides the in-process LRU, e.g. with a RedisCache.
	Cache PermissionCache

	AuditLogger audit.Logger
	Recorder    observability.Recorder
	Logger      *observability.Logger
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		Dialect:   DialectPostgres,
		CacheTTL:  DefaultCacheTTL,
		CacheSize: 10000,
	}
}

// Manager manages all RBAC components
type Manager struct {
	db         *sql.DB
	config     Config
	store      *Store
	checker    *PermissionChecker
	admin      *Admin
	seeder     *Seeder
	middleware *PermissionMiddleware
}

// NewManager creates a new RBAC manager
func NewManager(db *sql.DB, config Config) *Manager {
	if config.Catalog == nil {
		config.Catalog = BuiltInCatalog()
	}
	if config.Logger == nil {
		config.Logger = observability.NewNopLogger()
	}
	if config.AuditLogger == nil {
		config.AuditLogger = audit.NopLogger()
	}
	if config.Recorder == nil {
		config.Recorder = observability.NopRecorder()
	}

	store := NewStore(db)

	opts := []CheckerOption{
		WithRecorder(config.Recorder),
		WithAuditLogger(config.AuditLogger),
		WithLogger(config.Logger),
	}
	if config.CacheTTL > 0 {
		cache := config.Cache
		if cache == nil {
			cache = NewMemoryCache(config.CacheSize, config.CacheTTL)
		}
		opts = append(opts, WithCache(cache, config.CacheTTL))
	}
	checker := NewPermissionChecker(store, config.Catalog, opts...)

	admin := NewAdmin(AdminConfig{
		Store:       store,
		Invalidator: checker,
		AuditLogger: config.AuditLogger,
		Recorder:    config.Recorder,
		Logger:      config.Logger,
	})

	return &Manager{
		db:         db,
		config:     config,
		store:      store,
		checker:    checker,
		admin:      admin,
		seeder:     NewSeeder(store, config.Catalog, checker, config.AuditLogger, config.Logger),
		middleware: NewPermissionMiddleware(checker, config.Logger),
	}
}

// Initialize runs pending migrations and seeds the catalog roles and the
// bootstrap administrator.
func (m *Manager) Initialize(ctx context.Context, seed SeedOptions) (*SeedResult, error) {
	if err := RunMigrations(ctx, m.db, m.config.Dialect, m.config.Logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	result, err := m.seeder.Seed(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("failed to seed roles: %w", err)
	}
	return result, nil
}

// GetStore returns the RBAC store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetChecker returns the permission checker
func (m *Manager) GetChecker() *PermissionChecker {
	return m.checker
}

// GetAdmin returns the role administrator
func (m *Manager) GetAdmin() *Admin {
	return m.admin
}

// GetSeeder returns the seeder
func (m *Manager) GetSeeder() *Seeder {
	return m.seeder
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// Catalog returns the catalog checks are evaluated against.
func (m *Manager) Catalog() *Catalog {
	return m.config.Catalog
}
