package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
)

func TestManager_Initialize(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	dbAudit, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Dialect = DialectSQLite
	cfg.AuditLogger = dbAudit
	m := NewManager(db, cfg)

	result, err := m.Initialize(ctx, SeedOptions{AdminEmail: "boot@example.com"})
	require.NoError(t, err)
	assert.True(t, result.AdminCreated)

	// second run is a no-op
	result, err = m.Initialize(ctx, SeedOptions{AdminEmail: "boot@example.com"})
	require.NoError(t, err)
	assert.False(t, result.AdminCreated)
	assert.Empty(t, result.RolesCreated)

	boot, err := m.GetStore().GetUserByEmail(ctx, "boot@example.com")
	require.NoError(t, err)
	user := createTestUser(t, m.GetStore(), "nurse@example.com")

	_, err = m.GetAdmin().AssignRoles(ctx, AssignRequest{
		ActingAdmin:   boot,
		TargetUserID:  user.ID,
		RoleNames:     []string{RoleStaff},
		EffectiveDate: timePtr(time.Now().UTC().Add(-time.Minute)),
	})
	require.NoError(t, err)

	ok, err := m.GetChecker().Authorize(ctx, user, EntityObservations, ActionCreate, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.GetChecker().Authorize(ctx, user, EntityAudit, ActionRead, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := dbAudit.Search(ctx, audit.SearchFilter{UserID: &user.ID})
	require.NoError(t, err)
	var types []audit.EventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []audit.EventType{audit.EventTypeRoleAssign, audit.EventTypeAuthzAccessDenied}, types)

	assert.NotNil(t, m.GetMiddleware())
	assert.NotNil(t, m.GetSeeder())
	assert.Equal(t, BuiltInCatalog().Names(), m.Catalog().Names())
}

func TestManager_CacheDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	m := NewManager(setupTestDB(t), cfg)
	assert.Nil(t, m.GetChecker().cache)
	assert.NoError(t, m.GetChecker().InvalidateCache(context.Background(), 1))
}
