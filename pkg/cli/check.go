package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate one authorization check for a user",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "Principal (email or ID)")
	entity := cmd.Flags.String("entity", "", "Entity, e.g. patients")
	action := cmd.Flags.String("action", "", "Action, e.g. read")
	createdBy := cmd.Flags.Int64("created-by", 0, "Creator of the record, for the ownership fallback")
	patientCreatedBy := cmd.Flags.Int64("patient-created-by", 0, "Creator of the record's patient, for the linked ownership fallback")
	asJSON := cmd.Flags.Bool("json", false, "Print the decision as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if strings.TrimSpace(*entity) == "" || strings.TrimSpace(*action) == "" {
			return fmt.Errorf("entity and action are required")
		}

		return withApp(func(ctx context.Context, a *app) error {
			principal, err := a.resolveUser(ctx, *user)
			if err != nil {
				return err
			}

			decision, err := a.manager.GetChecker().Check(ctx, principal,
				rbac.Entity(strings.TrimSpace(*entity)), rbac.Action(strings.TrimSpace(*action)),
				ownedRecord(*createdBy, *patientCreatedBy))
			if err != nil {
				return err
			}

			if *asJSON {
				return writeJSON(decision)
			}
			verdict := "DENY"
			if decision.Allowed {
				verdict = "ALLOW"
			}
			fmt.Fprintf(output, "%s %s:%s for %s (rule=%s) %s\n",
				verdict, decision.Entity, decision.Action, principal.Email, decision.Rule, decision.Reason)
			return nil
		})
	}

	return cmd
}

// ownedRecord builds the ownership metadata from the flags; zero means unset.
func ownedRecord(createdBy, patientCreatedBy int64) rbac.Owned {
	ptr := func(id int64) *int64 {
		if id <= 0 {
			return nil
		}
		return &id
	}
	switch {
	case patientCreatedBy > 0:
		return rbac.PatientLinkedRecord{CreatedBy: ptr(createdBy), PatientCreatedBy: ptr(patientCreatedBy)}
	case createdBy > 0:
		return rbac.PatientRecord{CreatedBy: ptr(createdBy)}
	default:
		return nil
	}
}

type permissionsView struct {
	UserID      int64               `json:"user_id"`
	Email       string              `json:"email"`
	Roles       []string            `json:"roles"`
	Permissions map[string][]string `json:"permissions"`
}

func newPermissionsCommand() *Command {
	cmd := &Command{
		Name:        "permissions",
		Description: "Show a user's active roles and merged permissions",
		Flags:       flag.NewFlagSet("permissions", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "Principal (email or ID)")
	asJSON := cmd.Flags.Bool("json", false, "Print as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			principal, err := a.resolveUser(ctx, *user)
			if err != nil {
				return err
			}

			checker := a.manager.GetChecker()
			roles, err := checker.GetActiveRoles(ctx, principal)
			if err != nil {
				return err
			}
			merged, err := checker.GetMergedPermissions(ctx, principal)
			if err != nil {
				return err
			}

			view := permissionsView{
				UserID:      principal.ID,
				Email:       principal.Email,
				Roles:       roles,
				Permissions: merged.ToMap(),
			}
			if *asJSON {
				return writeJSON(view)
			}

			fmt.Fprintf(output, "%s roles: %s\n", view.Email, listOrNone(view.Roles))
			for _, line := range formatPermissionMap(view.Permissions) {
				fmt.Fprintf(output, "    %s\n", line)
			}
			return nil
		})
	}

	return cmd
}
