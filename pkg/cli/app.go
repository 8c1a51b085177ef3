package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// app holds the wiring shared by every command that touches the database.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	log      *logrus.Logger
	logger   *observability.Logger
	registry *prometheus.Registry
	otel     *observability.OTelProviders
	auditLog audit.Logger
	events   *audit.DBLogger
	cache    *rbac.RedisCache
	manager  *rbac.Manager
}

// newApp loads configuration from the environment and connects everything.
// Callers must Close the returned app.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		log:    newLogrus(cfg.Observability.LogLevel),
		logger: observability.NewLogger(cfg.Observability.LogLevel, os.Stderr),
	}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	a.db, err = sql.Open(string(cfg.Database.Dialect), cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	a.db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	a.db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := a.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a.otel, err = observability.InitOTel(ctx, cfg.OTelConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	recorders := []observability.Recorder{}
	if cfg.Observability.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		recorders = append(recorders, observability.NewMetrics(a.registry))
	}
	if a.otel != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenTelemetry metrics: %w", err)
		}
		recorders = append(recorders, otelMetrics)
	}

	a.events, err = audit.NewDBLogger(a.db)
	if err != nil {
		return nil, err
	}
	sinks := []audit.Logger{}
	if cfg.Audit.Database {
		sinks = append(sinks, a.events)
	}
	if cfg.Audit.LogPath != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{
			BasePath: cfg.Audit.LogPath,
			Rotate:   cfg.Audit.Rotate,
			MaxSize:  cfg.Audit.MaxSize,
			MaxFiles: cfg.Audit.MaxFiles,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileLogger)
	}
	a.auditLog = audit.NewMultiLogger(sinks...)

	rbacCfg := rbac.DefaultConfig()
	rbacCfg.Dialect = cfg.Database.Dialect
	rbacCfg.AuditLogger = a.auditLog
	rbacCfg.Recorder = observability.MultiRecorder(recorders...)
	rbacCfg.Logger = a.logger
	rbacCfg.CacheSize = cfg.RBAC.CacheSize
	rbacCfg.CacheTTL = cfg.RBAC.CacheTTL

	if cfg.RBAC.CatalogFile != "" {
		rbacCfg.Catalog, err = rbac.LoadCatalogFile(cfg.RBAC.CatalogFile)
		if err != nil {
			return nil, err
		}
	}

	switch cfg.RBAC.CacheBackend {
	case config.CacheBackendNone:
		rbacCfg.CacheTTL = 0
	case config.CacheBackendRedis:
		a.cache, err = rbac.NewRedisCache(ctx, cfg.RedisCacheConfig())
		if err != nil {
			return nil, err
		}
		rbacCfg.Cache = a.cache
	}

	a.manager = rbac.NewManager(a.db, rbacCfg)
	return a, nil
}

// Close flushes metrics and releases every connection. Failures are logged.
func (a *app) Close(ctx context.Context) {
	if a.registry != nil && a.cfg.Observability.MetricsTextfile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Observability.MetricsTextfile, a.registry); err != nil {
			a.log.WithError(err).Warn("Failed to write metrics textfile")
		}
	}
	if a.otel != nil {
		if err := observability.ShutdownOTel(ctx, a.otel, a.logger); err != nil {
			a.log.WithError(err).Warn("Failed to shut down OpenTelemetry")
		}
	}
	if a.auditLog != nil {
		if err := a.auditLog.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close audit log")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close redis cache")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close database")
		}
	}
}

// withApp runs fn against a freshly wired app.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

func newLogrus(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	switch level {
	case observability.DebugLevel:
		logger.SetLevel(logrus.DebugLevel)
	case observability.WarnLevel:
		logger.SetLevel(logrus.WarnLevel)
	case observability.ErrorLevel:
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// resolveUser accepts a numeric user ID or an email address.
func (a *app) resolveUser(ctx context.Context, ref string) (*auth.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("user is required")
	}
	store := a.manager.GetStore()
	var (
		user *auth.User
		err  error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		user, err = store.GetUser(ctx, id)
	} else {
		user, err = store.GetUserByEmail(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", ref, err)
	}
	return user, nil
}

// resolveActor is resolveUser for the optional --actor flag.
func (a *app) resolveActor(ctx context.Context, ref string) (*auth.User, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, nil
	}
	return a.resolveUser(ctx, ref)
}

// parseTime accepts RFC 3339 timestamps or plain dates (midnight UTC).
// An empty string yields nil.
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q (use RFC 3339 or YYYY-MM-DD)", value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
