package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	status := cmd.Flags.Bool("status", false, "List migrations without applying them")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if !*status {
				if err := rbac.RunMigrations(ctx, a.db, a.cfg.Database.Dialect, a.logger); err != nil {
					return err
				}
			}
			return printMigrationStatus(ctx, a)
		})
	}

	return cmd
}

func printMigrationStatus(ctx context.Context, a *app) error {
	applied, err := rbac.AppliedVersions(ctx, a.db)
	if err != nil {
		// the tracking table is created by the first migrate run
		applied = map[int]bool{}
	}

	pending := 0
	for _, m := range rbac.GetMigrations() {
		state := "applied"
		if !applied[m.Version] {
			state = "pending"
			pending++
		}
		fmt.Fprintf(output, "%3d  %-8s %s\n", m.Version, state, m.Description)
	}

	a.log.WithField("pending", pending).Info("Migration status")
	return nil
}
