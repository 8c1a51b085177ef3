package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UserCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	user := createTestUser(t, store, "  Alice@Example.com ", staff)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
	assert.True(t, got.IsStaff)
	assert.True(t, got.IsActive)
	assert.False(t, got.IsSuperuser)

	byEmail, err := store.GetUserByEmail(ctx, "ALICE@example.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	got.IsActive = false
	require.NoError(t, store.UpdateUserFlags(ctx, got))
	reloaded, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)

	_, err = store.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestStore_RoleCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	role := &Role{
		Name:        "auditor",
		Description: "Compliance reviewer",
		Permissions: Permissions{EntityAudit: NewActionSet(ActionRead, ActionExport)},
	}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.NotZero(t, role.ID)
	assert.Equal(t, "AUDITOR", role.Name)

	retrieved, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "AUDITOR", retrieved.Name)
	assert.True(t, retrieved.Permissions.Equal(role.Permissions))

	byName, err := store.GetRoleByName(ctx, " Auditor ")
	require.NoError(t, err)
	assert.Equal(t, role.ID, byName.ID)

	retrieved.Permissions.Grant(EntityAnalytics, ActionRead)
	require.NoError(t, store.UpdateRole(ctx, retrieved))

	updated, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, updated.Permissions.Has(EntityAnalytics, ActionRead))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	_, err = store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteRole(ctx, role.ID), ErrNotFound)
	assert.ErrorIs(t, store.UpdateRole(ctx, role), ErrNotFound)
}

func TestStore_CreateRoleDuplicateIsStorageError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	require.NoError(t, store.CreateRole(ctx, &Role{Name: "ops", Permissions: Permissions{}}))
	err := store.CreateRole(ctx, &Role{Name: "OPS", Permissions: Permissions{}})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestStore_FindRolesByName(t *testing.T) {
	ctx := context.Background()
	store := setupSeededStore(t)

	found, err := store.FindRolesByName(ctx, []string{"staff", "Nurse", "STAFF", " viewer", ""})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, RoleStaff)
	assert.Contains(t, found, RoleViewer)
	assert.NotContains(t, found, "NURSE")

	empty, err := store.FindRolesByName(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_UpsertAssignment(t *testing.T) {
	ctx := context.Background()
	store := setupSeededStore(t)
	user := createTestUser(t, store, "bob@example.com")
	admin := createTestUser(t, store, "root@example.com", superuser)

	role, err := store.GetRoleByName(ctx, RoleStaff)
	require.NoError(t, err)

	effective := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	a := &RoleAssignment{UserID: user.ID, RoleID: role.ID, Reason: "onboarding", EffectiveDate: effective}
	created, err := store.UpsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := a.ID

	expiry := effective.Add(30 * 24 * time.Hour)
	again := &RoleAssignment{
		UserID:        user.ID,
		RoleID:        role.ID,
		AssignedBy:    int64Ptr(admin.ID),
		Reason:        "contract",
		EffectiveDate: effective.Add(time.Hour),
		ExpiryDate:    &expiry,
	}
	created, err = store.UpsertAssignment(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, again.ID)

	all, err := store.ListAssignments(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, RoleStaff, got.RoleName)
	assert.Equal(t, "contract", got.Reason)
	assert.True(t, got.EffectiveDate.Equal(effective.Add(time.Hour)))
	require.NotNil(t, got.ExpiryDate)
	assert.True(t, got.ExpiryDate.Equal(expiry))
	require.NotNil(t, got.AssignedBy)
	assert.Equal(t, admin.ID, *got.AssignedBy)

	single, err := store.GetAssignment(ctx, user.ID, role.ID)
	require.NoError(t, err)
	assert.Equal(t, firstID, single.ID)
}

func TestStore_ExpiryMustFollowEffective(t *testing.T) {
	ctx := context.Background()
	store := setupSeededStore(t)
	user := createTestUser(t, store, "carol@example.com")
	role, err := store.GetRoleByName(ctx, RoleViewer)
	require.NoError(t, err)

	effective := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.UpsertAssignment(ctx, &RoleAssignment{
		UserID: user.ID, RoleID: role.ID, EffectiveDate: effective, ExpiryDate: timePtr(effective),
	})
	assert.ErrorIs(t, err, ErrStorage)
}

func TestStore_ActiveAssignmentsWindow(t *testing.T) {
	ctx := context.Background()
	store := setupSeededStore(t)
	user := createTestUser(t, store, "dave@example.com")

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	assign := func(name string, effective time.Time, expiry *time.Time) {
		role, err := store.GetRoleByName(ctx, name)
		require.NoError(t, err)
		_, err = store.UpsertAssignment(ctx, &RoleAssignment{
			UserID: user.ID, RoleID: role.ID, EffectiveDate: effective, ExpiryDate: expiry,
		})
		require.NoError(t, err)
	}

	assign(RoleStaff, now.Add(-time.Hour), nil)                                // active, open-ended
	assign(RoleViewer, now, timePtr(now.Add(time.Hour)))                       // active, starts exactly now
	assign(RoleManager, now.Add(24*time.Hour), nil)                            // future
	assign(RolePatient, now.Add(-48*time.Hour), timePtr(now))                  // expires exactly now
	assign(RoleAdmin, now.Add(-72*time.Hour), timePtr(now.Add(-24*time.Hour))) // past

	active, err := store.ActiveAssignments(ctx, user.ID, now)
	require.NoError(t, err)
	var names []string
	for _, a := range active {
		names = append(names, a.RoleName)
		assert.True(t, a.ActiveAt(now))
	}
	assert.ElementsMatch(t, []string{RoleStaff, RoleViewer}, names)

	next, err := store.NextTransition(ctx, user.ID, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now.Add(time.Hour)), "got %v", next)

	later := now.Add(48 * time.Hour)
	none, err := store.NextTransition(ctx, user.ID, later)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_DeleteAssignmentAndRoleCascade(t *testing.T) {
	ctx := context.Background()
	store := setupSeededStore(t)
	u1 := createTestUser(t, store, "e1@example.com")
	u2 := createTestUser(t, store, "e2@example.com")

	role, err := store.GetRoleByName(ctx, RoleStaff)
	require.NoError(t, err)
	for _, u := range []int64{u2.ID, u1.ID} {
		_, err := store.UpsertAssignment(ctx, &RoleAssignment{UserID: u, RoleID: role.ID, EffectiveDate: time.Now().UTC()})
		require.NoError(t, err)
	}

	holders, err := store.UserIDsWithRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{u1.ID, u2.ID}, holders)

	require.NoError(t, store.DeleteAssignment(ctx, u1.ID, role.ID))
	assert.ErrorIs(t, store.DeleteAssignment(ctx, u1.ID, role.ID), ErrNotFound)

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	remaining, err := store.ListAssignments(ctx, u2.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(tx *Store) error {
		require.NoError(t, tx.CreateRole(ctx, &Role{Name: "temp", Permissions: Permissions{}}))
		// nested calls share the transaction
		return tx.RunInTx(ctx, func(inner *Store) error {
			assert.Same(t, tx, inner)
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetRoleByName(ctx, "temp")
	assert.ErrorIs(t, err, ErrNotFound)
}
