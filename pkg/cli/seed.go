package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func newSeedCommand() *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Migrate, create the catalog roles and the bootstrap administrator",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}

	email := cmd.Flags.String("admin-email", rbac.DefaultAdminEmail, "Bootstrap administrator email")
	password := cmd.Flags.String("admin-password", "", "Bootstrap administrator password (default: built-in development password)")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if *password == "" {
				a.log.Warn("Using the default administrator password; change it before exposing the deployment")
			}

			result, err := a.manager.Initialize(ctx, rbac.SeedOptions{
				AdminEmail:    *email,
				AdminPassword: *password,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(output, "Roles created: %s\n", listOrNone(result.RolesCreated))
			fmt.Fprintf(output, "Roles synced:  %s\n", listOrNone(result.RolesSynced))
			if result.AdminCreated {
				fmt.Fprintf(output, "Administrator created: %s\n", result.AdminEmail)
			} else {
				fmt.Fprintf(output, "Administrator exists: %s\n", result.AdminEmail)
			}
			return nil
		})
	}

	return cmd
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
