// Package cli provides the warden command-line interface for role administration.
//
// # Overview
//
// This package implements the `warden` tool operators use to prepare the
// database, grant and remove roles, and inspect what a user may do. Every
// command reads its connection settings from the WARDEN_* environment (see
// pkg/config).
//
// # Commands
//
// migrate: Apply pending migrations, or list them with --status
//
//	warden migrate
//	warden migrate --status
//
// seed: Migrate, create the catalog roles and the bootstrap administrator
//
//	warden seed --admin-email admin@example.com --admin-password '...'
//
// assign: Assign roles to a user, optionally time-bounded
//
//	warden assign \
//		--user nurse@example.com \
//		--roles STAFF,VIEWER \
//		--effective 2026-11-01 \
//		--expiry 2027-11-01 \
//		--actor admin@example.com \
//		--reason "night shift cover"
//
// revoke: Remove one role from a user
//
//	warden revoke --user nurse@example.com --role VIEWER
//
// roles: Compare the catalog with the roles table, or list one user's assignments
//
//	warden roles
//	warden roles --user nurse@example.com --json
//
// check: Evaluate a single authorization check
//
//	warden check --user nurse@example.com --entity observations --action update --created-by 42
//
// permissions: Show active roles and merged permissions
//
//	warden permissions --user nurse@example.com
//
// audit: Search recorded audit events
//
//	warden audit --user nurse@example.com --type role.assign,role.revoke --since 168h
//
// # Configuration
//
//	export WARDEN_DATABASE_URL="postgres://localhost/warden?sslmode=disable"
//	export WARDEN_DB_DIALECT="postgres"   # or sqlite3 with a file:...?_foreign_keys=on DSN
//
// Users are referenced by email or numeric ID. Results go to stdout and logs
// to stderr.
//
// # Related Packages
//
//   - pkg/rbac: Performs every operation
//   - pkg/config: Supplies connection settings
package cli
