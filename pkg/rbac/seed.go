package rbac

import (
	"context"
	"errors"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Bootstrap administrator defaults
const (
	DefaultAdminEmail    = "admin@example.com"
	DefaultAdminPassword = "ChangeMe123!"
)

// SeedOptions configures Seed. Empty fields fall back to the defaults.
type SeedOptions struct {
	AdminEmail    string
	AdminPassword string
}

// SeedResult reports what Seed changed.
type SeedResult struct {
	RolesCreated []string
	RolesSynced  []string
	AdminEmail   string
	AdminCreated bool
}

// Seeder installs catalog roles and the bootstrap administrator.
type Seeder struct {
	store       *Store
	catalog     *Catalog
	invalidator CacheInvalidator
	auditLog    audit.Logger
	logger      *observability.Logger
}

// NewSeeder creates a seeder for catalog. A nil catalog means the built-in
// one; nil audit logger and logger discard output.
func NewSeeder(store *Store, catalog *Catalog, invalidator CacheInvalidator, auditLog audit.Logger, logger *observability.Logger) *Seeder {
	if catalog == nil {
		catalog = BuiltInCatalog()
	}
	if auditLog == nil {
		auditLog = audit.NopLogger()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Seeder{store: store, catalog: catalog, invalidator: invalidator, auditLog: auditLog, logger: logger}
}

// Seed makes every catalog role exist with its catalog permissions and makes
// sure an administrator account exists. It is idempotent; an existing
// administrator is left untouched, password included.
func (s *Seeder) Seed(ctx context.Context, opts SeedOptions) (*SeedResult, error) {
	if opts.AdminEmail == "" {
		opts.AdminEmail = DefaultAdminEmail
	}
	if opts.AdminPassword == "" {
		opts.AdminPassword = DefaultAdminPassword
	}

	result := &SeedResult{}

	err := s.store.RunInTx(ctx, func(tx *Store) error {
		if err := s.seedRoles(ctx, tx, result); err != nil {
			return err
		}
		return s.seedAdmin(ctx, tx, opts, result)
	})

	if logErr := audit.LogRoleChange(ctx, s.auditLog, audit.EventTypeSeedRoles, nil, nil, s.catalog.Names(), &audit.ChangeDetails{
		After: map[string]interface{}{"created": result.RolesCreated, "synced": result.RolesSynced},
	}, err); logErr != nil {
		s.logger.WithError(logErr).Warn("Failed to record role seeding")
	}
	if err != nil {
		return nil, err
	}

	if result.AdminCreated {
		event := audit.NewEvent(ctx, audit.EventTypeSeedAdmin, audit.EventStatusSuccess)
		event.Message = "created bootstrap administrator " + result.AdminEmail
		if logErr := s.auditLog.Log(ctx, event); logErr != nil {
			s.logger.WithError(logErr).Warn("Failed to record admin seeding")
		}
	}

	// role permissions may have changed under cached role sets
	if s.invalidator != nil && len(result.RolesSynced) > 0 {
		for _, name := range result.RolesSynced {
			role, err := s.store.GetRoleByName(ctx, name)
			if err != nil {
				continue
			}
			if holders, err := s.store.UserIDsWithRole(ctx, role.ID); err == nil {
				_ = s.invalidator.InvalidateCache(ctx, holders...)
			}
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"roles_created": len(result.RolesCreated),
		"roles_synced":  len(result.RolesSynced),
		"admin_created": result.AdminCreated,
	}).Info("Role seeding completed")

	return result, nil
}

func (s *Seeder) seedRoles(ctx context.Context, tx *Store, result *SeedResult) error {
	for _, def := range s.catalog.Roles() {
		existing, err := tx.GetRoleByName(ctx, def.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			role := def
			if err := tx.CreateRole(ctx, &role); err != nil {
				return err
			}
			s.logger.WithField("role", role.Name).Info("Created role")
			result.RolesCreated = append(result.RolesCreated, role.Name)
		case err != nil:
			return err
		default:
			if existing.Permissions.Equal(def.Permissions) && existing.Description == def.Description {
				continue
			}
			existing.Permissions = def.Permissions
			existing.Description = def.Description
			if err := tx.UpdateRole(ctx, existing); err != nil {
				return err
			}
			result.RolesSynced = append(result.RolesSynced, existing.Name)
		}
	}
	return nil
}

func (s *Seeder) seedAdmin(ctx context.Context, tx *Store, opts SeedOptions, result *SeedResult) error {
	existing, err := tx.GetUserByEmail(ctx, opts.AdminEmail)
	if err == nil {
		result.AdminEmail = existing.Email
		s.logger.WithField("email", existing.Email).Info("Admin user already exists; skipping creation")
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(opts.AdminPassword)
	if err != nil {
		return err
	}
	admin := &auth.User{
		Email:        opts.AdminEmail,
		PasswordHash: hash,
		IsSuperuser:  true,
		IsStaff:      true,
		IsActive:     true,
	}
	if err := tx.CreateUser(ctx, admin); err != nil {
		return err
	}

	result.AdminEmail = admin.Email
	result.AdminCreated = true
	s.logger.WithField("email", admin.Email).Info("Created admin user")
	return nil
}
