package rbac

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeRoleName(t *testing.T) {
	assert.Equal(t, "STAFF", NormalizeRoleName(" staff "))
	assert.Equal(t, "", NormalizeRoleName("   "))
}

func TestActionSet_Allows(t *testing.T) {
	set := NewActionSet(ActionRead)
	assert.True(t, set.Allows(ActionRead))
	assert.False(t, set.Allows(ActionDelete))

	all := NewActionSet(ActionAll)
	assert.True(t, all.Allows(ActionDelete))
	assert.False(t, all.Has(ActionDelete))

	var missing ActionSet
	assert.False(t, missing.Allows(ActionRead))
}

func TestPermissions_MergeAndClone(t *testing.T) {
	p := Permissions{EntityPatients: NewActionSet(ActionRead)}
	p.Merge(Permissions{
		EntityPatients: NewActionSet(ActionUpdate),
		EntityHL7:      NewActionSet(ActionRead),
	})
	assert.True(t, p.Has(EntityPatients, ActionRead))
	assert.True(t, p.Has(EntityPatients, ActionUpdate))
	assert.True(t, p.Has(EntityHL7, ActionRead))
	assert.Equal(t, []Entity{EntityHL7, EntityPatients}, p.Entities())

	clone := p.Clone()
	clone.Grant(EntityPatients, ActionDelete)
	assert.False(t, p.Has(EntityPatients, ActionDelete))

	var nilPerms Permissions
	assert.NotNil(t, nilPerms.Clone())
	assert.True(t, nilPerms.Equal(Permissions{}))
}

func TestPermissions_JSON(t *testing.T) {
	p := Permissions{EntityPatients: NewActionSet(ActionUpdate, ActionRead)}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"patients":["read","update"]}`, string(data))

	var decoded Permissions
	require.NoError(t, json.Unmarshal([]byte(`{"*":["*"],"audit":["read"]}`), &decoded))
	assert.True(t, decoded.Has(EntityAll, ActionAll))
	assert.True(t, decoded.Has(EntityAudit, ActionRead))

	assert.Error(t, json.Unmarshal([]byte(`{"patients":[" "]}`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`{"":["read"]}`), &decoded))
}

func TestPermissions_YAML(t *testing.T) {
	var p Permissions
	require.NoError(t, yaml.Unmarshal([]byte("patients: [read, update]\nhl7: [read]\n"), &p))
	assert.True(t, p.Has(EntityPatients, ActionUpdate))
	assert.True(t, p.Has(EntityHL7, ActionRead))

	out, err := yaml.Marshal(p)
	require.NoError(t, err)

	var round Permissions
	require.NoError(t, yaml.Unmarshal(out, &round))
	assert.True(t, p.Equal(round))
}

func TestRoleAssignment_ActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	open := RoleAssignment{EffectiveDate: start}
	assert.False(t, open.ActiveAt(start.Add(-time.Second)))
	assert.True(t, open.ActiveAt(start))
	assert.True(t, open.ActiveAt(start.AddDate(10, 0, 0)))

	bounded := RoleAssignment{EffectiveDate: start, ExpiryDate: &end}
	assert.True(t, bounded.ActiveAt(end.Add(-time.Second)))
	assert.False(t, bounded.ActiveAt(end))
}
