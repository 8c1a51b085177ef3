package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// TestPostgresEnv names the DSN of an externally managed postgres used by the
// database-backed tests.
const TestPostgresEnv = "WARDEN_TEST_POSTGRES"

// SkipIfNoDatabase skips the test unless WARDEN_TEST_POSTGRES is set and
// returns its value.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv(TestPostgresEnv)
	if dbURL == "" {
		t.Skipf("Skipping test: %s environment variable not set (database not available)", TestPostgresEnv)
	}

	return dbURL
}

// SkipIfNoDatabaseOrShort skips the test if running in short mode OR if database is not available.
func SkipIfNoDatabaseOrShort(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	return SkipIfNoDatabase(t)
}

// RequireDatabase connects to the configured postgres and applies the
// migrations, skipping the test when it is unreachable.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	if err := RunMigrations(context.Background(), db, DialectPostgres, nil); err != nil {
		db.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return db
}

// IsDatabaseAvailable returns true if WARDEN_TEST_POSTGRES is set (does not test connection).
func IsDatabaseAvailable() bool {
	return os.Getenv(TestPostgresEnv) != ""
}
