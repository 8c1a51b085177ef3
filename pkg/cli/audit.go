package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/audit"
)

func newAuditCommand() *Command {
	cmd := &Command{
		Name:        "audit",
		Description: "Search recorded audit events",
		Flags:       flag.NewFlagSet("audit", flag.ContinueOnError),
	}

	user := cmd.Flags.String("user", "", "Events where this user is actor or target (email or ID)")
	types := cmd.Flags.String("type", "", "Comma-separated event types, e.g. role.assign,authz.access_denied")
	status := cmd.Flags.String("status", "", "Event status: success, failure or denied")
	role := cmd.Flags.String("role", "", "Role name")
	since := cmd.Flags.Duration("since", 0, "Only events newer than this, e.g. 24h")
	limit := cmd.Flags.Int("limit", 50, "Maximum number of events")
	asJSON := cmd.Flags.Bool("json", false, "Print events as JSON")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		filter := audit.SearchFilter{
			Status:   audit.EventStatus(*status),
			RoleName: strings.TrimSpace(*role),
			Limit:    *limit,
		}
		for _, t := range splitList(*types) {
			filter.EventTypes = append(filter.EventTypes, audit.EventType(t))
		}
		if *since > 0 {
			start := time.Now().UTC().Add(-*since)
			filter.StartTime = &start
		}

		return withApp(func(ctx context.Context, a *app) error {
			if *user != "" {
				u, err := a.resolveUser(ctx, *user)
				if err != nil {
					return err
				}
				filter.UserID = &u.ID
			}

			events, err := a.events.Search(ctx, filter)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(events)
			}

			for _, e := range events {
				fmt.Fprintln(output, formatEvent(e))
			}
			return nil
		})
	}

	return cmd
}

func formatEvent(e *audit.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-22s %-7s actor=%s", e.Timestamp.Format(time.RFC3339), e.EventType, e.Status, idOrSystem(e.ActorID))
	if e.TargetUserID != nil {
		fmt.Fprintf(&b, " target=%d", *e.TargetUserID)
	}
	if e.RoleName != "" {
		fmt.Fprintf(&b, " role=%s", e.RoleName)
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s:%s", e.Entity, e.Action)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " %q", e.Message)
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, " error=%q", e.ErrorMessage)
	}
	return b.String()
}

func idOrSystem(id *int64) string {
	if id == nil {
		return "system"
	}
	return strconv.FormatInt(*id, 10)
}
