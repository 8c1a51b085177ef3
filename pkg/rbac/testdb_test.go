package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
)

var testDBSeq atomic.Int64

// setupTestDB opens a private in-memory sqlite database with the migrations
// applied.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:warden_test_%d?mode=memory&cache=shared&_foreign_keys=on", testDBSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db, DialectSQLite, nil))
	return db
}

// setupSeededStore returns a store with the built-in catalog roles present.
func setupSeededStore(t *testing.T) *Store {
	t.Helper()

	store := NewStore(setupTestDB(t))
	_, err := NewSeeder(store, nil, nil, nil, nil).Seed(context.Background(), SeedOptions{})
	require.NoError(t, err)
	return store
}

func createTestUser(t *testing.T, store *Store, email string, mutate ...func(*auth.User)) *auth.User {
	t.Helper()

	user := &auth.User{Email: email, IsActive: true}
	for _, m := range mutate {
		m(user)
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func staff(u *auth.User)     { u.IsStaff = true }
func superuser(u *auth.User) { u.IsSuperuser = true }
func inactive(u *auth.User)  { u.IsActive = false }

// fixedClock is a settable clock for temporal tests.
type fixedClock struct {
	t atomic.Pointer[time.Time]
}

func newFixedClock(t time.Time) *fixedClock {
	c := &fixedClock{}
	c.Set(t)
	return c
}

func (c *fixedClock) Now() time.Time { return *c.t.Load() }

func (c *fixedClock) Set(t time.Time) {
	t = t.UTC().Truncate(time.Second)
	c.t.Store(&t)
}

func (c *fixedClock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }

func int64Ptr(v int64) *int64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }
