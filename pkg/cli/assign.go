package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func newAssignCommand() *Command {
	cmd := &Command{
		Name:        "assign",
		Description: "Assign one or more roles to a user",
		Flags:       flag.NewFlagSet("assign", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "Target user (email or ID)")
	roles := cmd.Flags.String("roles", "", "Comma-separated role names")
	effective := cmd.Flags.String("effective", "", "Effective from (RFC 3339 or YYYY-MM-DD, default now)")
	expiry := cmd.Flags.String("expiry", "", "Expires at (RFC 3339 or YYYY-MM-DD, default never)")
	reason := cmd.Flags.String("reason", "", "Reason recorded with the assignment")
	actor := cmd.Flags.String("actor", "", "Administrator performing the change (email or ID)")
	asJSON := cmd.Flags.Bool("json", false, "Print results as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		effectiveAt, err := parseTime(*effective)
		if err != nil {
			return err
		}
		expiresAt, err := parseTime(*expiry)
		if err != nil {
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			target, err := a.resolveUser(ctx, *user)
			if err != nil {
				return err
			}
			admin, err := a.resolveActor(ctx, *actor)
			if err != nil {
				return err
			}

			results, err := a.manager.GetAdmin().AssignRoles(ctx, rbac.AssignRequest{
				ActingAdmin:   admin,
				TargetUserID:  target.ID,
				RoleNames:     splitList(*roles),
				EffectiveDate: effectiveAt,
				ExpiryDate:    expiresAt,
				Reason:        *reason,
			})
			if err != nil {
				return err
			}

			if *asJSON {
				return writeJSON(results)
			}
			for _, r := range results {
				verb := "updated"
				if r.Created {
					verb = "assigned"
				}
				fmt.Fprintf(output, "%s %s to %s (%s)\n", verb, r.Role.Name, target.Email, formatWindow(r.Assignment))
			}
			return nil
		})
	}

	return cmd
}

func newRevokeCommand() *Command {
	cmd := &Command{
		Name:        "revoke",
		Description: "Remove a role from a user",
		Flags:       flag.NewFlagSet("revoke", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "Target user (email or ID)")
	role := cmd.Flags.String("role", "", "Role name")
	reason := cmd.Flags.String("reason", "", "Reason recorded with the revocation")
	actor := cmd.Flags.String("actor", "", "Administrator performing the change (email or ID)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			target, err := a.resolveUser(ctx, *user)
			if err != nil {
				return err
			}
			admin, err := a.resolveActor(ctx, *actor)
			if err != nil {
				return err
			}

			err = a.manager.GetAdmin().RevokeRole(ctx, rbac.RevokeRequest{
				ActingAdmin:  admin,
				TargetUserID: target.ID,
				RoleName:     *role,
				Reason:       *reason,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(output, "revoked %s from %s\n", rbac.NormalizeRoleName(*role), target.Email)
			return nil
		})
	}

	return cmd
}

func formatWindow(a rbac.RoleAssignment) string {
	from := a.EffectiveDate.Format(time.RFC3339)
	if a.ExpiryDate == nil {
		return "from " + from
	}
	return "from " + from + " until " + a.ExpiryDate.Format(time.RFC3339)
}

func writeJSON(v interface{}) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
