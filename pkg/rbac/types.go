package rbac

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Entity is a coarse resource category permissions are granted on, not an
// individual record.
type Entity string

const (
	EntityAll           Entity = "*"
	EntityPatients      Entity = "patients"
	EntityObservations  Entity = "observations"
	EntityAppointments  Entity = "appointments"
	EntityNotifications Entity = "notifications"
	EntityAnalytics     Entity = "analytics"
	EntityAudit         Entity = "audit"
	EntityTelemedicine  Entity = "telemedicine"
	EntityHL7           Entity = "hl7"
)

// Action is a verb performed on an entity.
type Action string

const (
	ActionAll    Action = "*"
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionAssign Action = "assign"
	ActionMerge  Action = "merge"
	ActionTrend  Action = "trend"
	ActionAlert  Action = "alert"
	ActionManage Action = "manage"
)

// Built-in role names
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleStaff   = "STAFF"
	RolePatient = "PATIENT"
	RoleViewer  = "VIEWER"
)

// NormalizeRoleName maps a role name into its comparison domain.
func NormalizeRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// ActionSet is an unordered set of actions.
type ActionSet map[Action]struct{}

// NewActionSet builds a set from the given actions.
func NewActionSet(actions ...Action) ActionSet {
	s := make(ActionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// Has reports whether a is literally present.
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Allows reports whether the set grants a, either literally or through the
// "*" action.
func (s ActionSet) Allows(a Action) bool {
	return s.Has(a) || s.Has(ActionAll)
}

// Sorted returns the actions in lexical order.
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Permissions maps an entity to the actions granted on it. The "*" entity
// applies to every entity.
type Permissions map[Entity]ActionSet

// Grant adds actions under entity.
func (p Permissions) Grant(entity Entity, actions ...Action) {
	set, ok := p[entity]
	if !ok {
		set = make(ActionSet, len(actions))
		p[entity] = set
	}
	for _, a := range actions {
		set[a] = struct{}{}
	}
}

// Merge unions other into p.
func (p Permissions) Merge(other Permissions) {
	for entity, actions := range other {
		for a := range actions {
			p.Grant(entity, a)
		}
	}
}

// Has reports whether action is literally granted under entity.
func (p Permissions) Has(entity Entity, action Action) bool {
	return p[entity].Has(action)
}

// Clone returns a deep copy. Cloning nil yields an empty, non-nil map.
func (p Permissions) Clone() Permissions {
	out := make(Permissions, len(p))
	out.Merge(p)
	return out
}

// Entities returns the granted entities in lexical order.
func (p Permissions) Entities() []Entity {
	out := make([]Entity, 0, len(p))
	for e := range p {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both maps grant exactly the same pairs.
func (p Permissions) Equal(other Permissions) bool {
	if len(p) != len(other) {
		return false
	}
	for entity, actions := range p {
		o, ok := other[entity]
		if !ok || len(o) != len(actions) {
			return false
		}
		for a := range actions {
			if !o.Has(a) {
				return false
			}
		}
	}
	return true
}

// ToMap renders p in the stored wire shape: entity → sorted action list.
func (p Permissions) ToMap() map[string][]string {
	out := make(map[string][]string, len(p))
	for entity, actions := range p {
		list := make([]string, 0, len(actions))
		for _, a := range actions.Sorted() {
			list = append(list, string(a))
		}
		out[string(entity)] = list
	}
	return out
}

// PermissionsFromMap is the inverse of ToMap. Blank entity or action names
// are rejected.
func PermissionsFromMap(m map[string][]string) (Permissions, error) {
	out := make(Permissions, len(m))
	for entity, actions := range m {
		entity = strings.TrimSpace(entity)
		if entity == "" {
			return nil, fmt.Errorf("permission entity must not be blank")
		}
		set, ok := out[Entity(entity)]
		if !ok {
			set = make(ActionSet, len(actions))
			out[Entity(entity)] = set
		}
		for _, a := range actions {
			a = strings.TrimSpace(a)
			if a == "" {
				return nil, fmt.Errorf("blank action under entity %q", entity)
			}
			set[Action(a)] = struct{}{}
		}
	}
	return out, nil
}

// MarshalJSON encodes entity → sorted action list.
func (p Permissions) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.ToMap())
}

// UnmarshalJSON decodes entity → action list.
func (p *Permissions) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := PermissionsFromMap(m)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalYAML encodes entity → sorted action list.
func (p Permissions) MarshalYAML() (interface{}, error) {
	return p.ToMap(), nil
}

// UnmarshalYAML decodes entity → action list.
func (p *Permissions) UnmarshalYAML(value *yaml.Node) error {
	var m map[string][]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	parsed, err := PermissionsFromMap(m)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Role is a persisted role row. Name is stored normalized.
type Role struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Permissions Permissions `json:"permissions"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RoleAssignment binds one user to one role over [EffectiveDate, ExpiryDate).
type RoleAssignment struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name"`
	// AssignedBy is nil when the system made the assignment.
	AssignedBy    *int64     `json:"assigned_by,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	EffectiveDate time.Time  `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActiveAt reports whether t falls inside the assignment window.
func (a RoleAssignment) ActiveAt(t time.Time) bool {
	if a.EffectiveDate.After(t) {
		return false
	}
	return a.ExpiryDate == nil || a.ExpiryDate.After(t)
}

// AssignmentResult reports one upserted binding with its resolved role.
type AssignmentResult struct {
	Assignment RoleAssignment `json:"assignment"`
	Role       Role           `json:"role"`
	// Created is false when an existing (user, role) binding was overwritten.
	Created bool `json:"created"`
}

// Rule identifies the evaluation step that produced a Decision.
type Rule string

const (
	RuleUnauthenticated Rule = "unauthenticated"
	RuleSuperuser       Rule = "superuser"
	RuleWildcardEntity  Rule = "wildcard_entity"
	RuleEntity          Rule = "entity"
	RuleOwner           Rule = "owner"
	RuleLinkedOwner     Rule = "linked_owner"
	RuleDeny            Rule = "deny"
)

// Decision is the outcome of a single authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Rule    Rule   `json:"rule"`
	Reason  string `json:"reason"`
	Entity  Entity `json:"entity"`
	Action  Action `json:"action"`
	// Roles lists the active roles considered; empty for the superuser and
	// unauthenticated short-circuits.
	Roles []string `json:"roles,omitempty"`
}
