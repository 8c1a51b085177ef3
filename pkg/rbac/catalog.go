package rbac

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog maps role names to permission sets. It is immutable once built and
// safe for concurrent use.
type Catalog struct {
	roles map[string]catalogEntry
}

type catalogEntry struct {
	description string
	permissions Permissions
}

// NewCatalog builds a catalog from name → permissions. Names are normalized;
// the input map is copied.
func NewCatalog(roles map[string]Permissions) *Catalog {
	c := &Catalog{roles: make(map[string]catalogEntry, len(roles))}
	for name, perms := range roles {
		c.roles[NormalizeRoleName(name)] = catalogEntry{permissions: perms.Clone()}
	}
	return c
}

// BuiltInCatalog returns the five-tier catalog installed by the seeder.
func BuiltInCatalog() *Catalog {
	c := &Catalog{roles: make(map[string]catalogEntry, 5)}

	c.add(RoleAdmin, "Full access to every entity and action",
		Permissions{EntityAll: NewActionSet(ActionAll)})

	c.add(RoleManager, "Clinical operations lead", Permissions{
		EntityPatients:      NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionMerge, ActionExport),
		EntityObservations:  NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionTrend, ActionAlert),
		EntityAppointments:  NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionDelete),
		EntityNotifications: NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		EntityAnalytics:     NewActionSet(ActionRead),
		EntityAudit:         NewActionSet(ActionRead, ActionExport),
		EntityTelemedicine:  NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		EntityHL7:           NewActionSet(ActionCreate, ActionRead),
	})

	c.add(RoleStaff, "Front-line staff", Permissions{
		EntityPatients:      NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		EntityObservations:  NewActionSet(ActionCreate, ActionRead),
		EntityAppointments:  NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		EntityTelemedicine:  NewActionSet(ActionRead),
		EntityNotifications: NewActionSet(ActionCreate, ActionRead),
		EntityHL7:           NewActionSet(ActionRead),
	})

	c.add(RolePatient, "Self-service access to a patient's own records", Permissions{
		EntityPatients:      NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionExport),
		EntityAppointments:  NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		EntityTelemedicine:  NewActionSet(ActionRead),
		EntityNotifications: NewActionSet(ActionRead),
	})

	c.add(RoleViewer, "Read-only access to every entity",
		Permissions{EntityAll: NewActionSet(ActionRead)})

	return c
}

func (c *Catalog) add(name, description string, perms Permissions) {
	c.roles[NormalizeRoleName(name)] = catalogEntry{description: description, permissions: perms}
}

// Lookup returns a copy of the permissions for name. Unknown names yield an
// empty map, never an error.
func (c *Catalog) Lookup(name string) Permissions {
	if c == nil {
		return Permissions{}
	}
	entry, ok := c.roles[NormalizeRoleName(name)]
	if !ok {
		return Permissions{}
	}
	return entry.permissions.Clone()
}

// Has reports whether name has a catalog entry.
func (c *Catalog) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.roles[NormalizeRoleName(name)]
	return ok
}

// Description returns the human description for name, or "".
func (c *Catalog) Description(name string) string {
	if c == nil {
		return ""
	}
	return c.roles[NormalizeRoleName(name)].description
}

// Names returns the catalog role names in lexical order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.roles))
	for name := range c.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roles returns the catalog as unsaved Role values, ordered by name.
func (c *Catalog) Roles() []Role {
	names := c.Names()
	out := make([]Role, 0, len(names))
	for _, name := range names {
		entry := c.roles[name]
		out = append(out, Role{
			Name:        name,
			Description: entry.description,
			Permissions: entry.permissions.Clone(),
		})
	}
	return out
}

// catalogFile is the YAML layout read by LoadCatalog:
//
//	roles:
//	  AUDITOR:
//	    description: Compliance reviewer
//	    permissions:
//	      audit: [read, export]
type catalogFile struct {
	Roles map[string]struct {
		Description string      `yaml:"description"`
		Permissions Permissions `yaml:"permissions"`
	} `yaml:"roles"`
}

// LoadCatalog parses a YAML catalog. Unknown keys, blank names and names that
// collide after normalization are rejected.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, errors.New("catalog defines no roles")
	}

	c := &Catalog{roles: make(map[string]catalogEntry, len(file.Roles))}
	for name, def := range file.Roles {
		normalized := NormalizeRoleName(name)
		if normalized == "" {
			return nil, errors.New("catalog role name must not be blank")
		}
		if _, dup := c.roles[normalized]; dup {
			return nil, fmt.Errorf("catalog role %q defined more than once", normalized)
		}
		perms := def.Permissions
		if perms == nil {
			perms = Permissions{}
		}
		c.add(normalized, def.Description, perms)
	}
	return c, nil
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	c, err := LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
