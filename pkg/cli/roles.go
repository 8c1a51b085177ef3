package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Role row states relative to the catalog
const (
	roleInSync       = "in-sync"
	roleMissing      = "missing"
	roleDrifted      = "drifted"
	roleNotInCatalog = "not-in-catalog"
)

type roleStatus struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Permissions map[string][]string `json:"permissions"`
	State       string              `json:"state"`
}

func newRolesCommand() *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "List catalog roles, or the assignments of one user",
		Flags:       flag.NewFlagSet("roles", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "List this user's assignments instead (email or ID)")
	asJSON := cmd.Flags.Bool("json", false, "Print as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if *user != "" {
				return listUserAssignments(ctx, a, *user, *asJSON)
			}
			return listRoles(ctx, a, *asJSON)
		})
	}

	return cmd
}

// compareRoles reports each catalog role against its database row. Checks
// always use the catalog, so drifted rows only matter to tools reading the
// table directly.
func compareRoles(ctx context.Context, a *app) ([]roleStatus, error) {
	catalog := a.manager.Catalog()
	store := a.manager.GetStore()

	var out []roleStatus
	for _, role := range catalog.Roles() {
		status := roleStatus{
			Name:        role.Name,
			Description: role.Description,
			Permissions: role.Permissions.ToMap(),
			State:       roleInSync,
		}
		row, err := store.GetRoleByName(ctx, role.Name)
		switch {
		case errors.Is(err, rbac.ErrNotFound):
			status.State = roleMissing
		case err != nil:
			return nil, err
		case !row.Permissions.Equal(role.Permissions):
			status.State = roleDrifted
		}
		out = append(out, status)
	}

	rows, err := store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if catalog.Has(row.Name) {
			continue
		}
		out = append(out, roleStatus{
			Name:        row.Name,
			Description: row.Description,
			Permissions: row.Permissions.ToMap(),
			State:       roleNotInCatalog,
		})
	}
	return out, nil
}

func listRoles(ctx context.Context, a *app, asJSON bool) error {
	statuses, err := compareRoles(ctx, a)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(statuses)
	}

	for _, s := range statuses {
		fmt.Fprintf(output, "%-10s %-15s %s\n", s.Name, s.State, s.Description)
		for _, line := range formatPermissionMap(s.Permissions) {
			fmt.Fprintf(output, "    %s\n", line)
		}
	}
	return nil
}

func listUserAssignments(ctx context.Context, a *app, ref string, asJSON bool) error {
	target, err := a.resolveUser(ctx, ref)
	if err != nil {
		return err
	}
	assignments, err := a.manager.GetAdmin().ListAssignments(ctx, target.ID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(assignments)
	}

	if len(assignments) == 0 {
		fmt.Fprintf(output, "%s has no role assignments\n", target.Email)
		return nil
	}
	now := time.Now().UTC()
	for _, as := range assignments {
		state := "inactive"
		if as.ActiveAt(now) {
			state = "active"
		}
		line := fmt.Sprintf("%-10s %-8s %s", as.RoleName, state, formatWindow(as))
		if as.Reason != "" {
			line += " reason=" + as.Reason
		}
		fmt.Fprintln(output, line)
	}
	return nil
}

// formatPermissionMap renders one "entity: action, action" line per entity.
func formatPermissionMap(perms map[string][]string) []string {
	entities := make([]string, 0, len(perms))
	for entity := range perms {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	lines := make([]string, 0, len(entities))
	for _, entity := range entities {
		lines = append(lines, entity+": "+strings.Join(perms[entity], ", "))
	}
	return lines
}
