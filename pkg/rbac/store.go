package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/auth"
)

// dbtx is the subset of *sql.DB and *sql.Tx the store runs queries on.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// Store handles RBAC data persistence. Queries use $N placeholders, which
// both lib/pq and go-sqlite3 accept.
type Store struct {
	db   *sql.DB
	q    dbtx
	inTx bool
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RunInTx runs fn against a store bound to a single transaction, committing
// when fn returns nil. Nested calls reuse the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// Users

const userColumns = `id, email, password_hash, is_superuser, is_staff, is_active, created_at, updated_at`

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsSuperuser, &u.IsStaff, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// CreateUser inserts a user. The email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	ts := now()

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, is_superuser, is_staff, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, user.Email, user.PasswordHash, user.IsSuperuser, user.IsStaff, user.IsActive, ts, ts).Scan(&user.ID)
	if err != nil {
		return storageErr("create user", err)
	}

	user.CreatedAt = ts
	user.UpdatedAt = ts
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by case-insensitive email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get user by email", err)
	}
	return u, nil
}

// UpdateUserFlags sets the privilege and activation flags of a user.
func (s *Store) UpdateUserFlags(ctx context.Context, user *auth.User) error {
	ts := now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE users SET is_superuser = $1, is_staff = $2, is_active = $3, updated_at = $4
		WHERE id = $5
	`, user.IsSuperuser, user.IsStaff, user.IsActive, ts, user.ID)
	if err != nil {
		return storageErr("update user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
	}
	user.UpdatedAt = ts
	return nil
}

// Roles

const roleColumns = `id, name, description, permissions, created_at, updated_at`

func scanRole(row rowScanner) (*Role, error) {
	var (
		role            Role
		permissionsJSON string
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &permissionsJSON, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions of role %s: %w", role.Name, err)
	}
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.UpdatedAt.UTC()
	return &role, nil
}

func marshalPermissions(p Permissions) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return string(b), nil
}

// CreateRole inserts a role. The name is stored normalized.
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	role.Name = NormalizeRoleName(role.Name)
	permissionsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	ts := now()
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, role.Name, role.Description, permissionsJSON, ts, ts).Scan(&role.ID)
	if err != nil {
		return storageErr("create role", err)
	}

	role.CreatedAt = ts
	role.UpdatedAt = ts
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	role, err := scanRole(s.q.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get role", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by case-insensitive name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	name = NormalizeRoleName(name)
	role, err := scanRole(s.q.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get role by name", err)
	}
	return role, nil
}

// ListRoles lists all roles ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, storageErr("list roles", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("list roles", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list roles", err)
	}
	return roles, nil
}

// FindRolesByName resolves names case-insensitively. The result is keyed by
// normalized name; names with no row are simply absent.
func (s *Store) FindRolesByName(ctx context.Context, names []string) (map[string]Role, error) {
	found := make(map[string]Role, len(names))
	if len(names) == 0 {
		return found, nil
	}

	seen := make(map[string]bool, len(names))
	var (
		placeholders []string
		args         []interface{}
	)
	for _, n := range names {
		n = NormalizeRoleName(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		args = append(args, n)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	if len(args) == 0 {
		return found, nil
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE name IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, storageErr("find roles", err)
	}
	defer rows.Close()

	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("find roles", err)
		}
		found[role.Name] = *role
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("find roles", err)
	}
	return found, nil
}

// UpdateRole replaces the description and permissions of a role
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	ts := now()
	res, err := s.q.ExecContext(ctx, `
		UPDATE roles SET description = $1, permissions = $2, updated_at = $3
		WHERE id = $4
	`, role.Description, permissionsJSON, ts, role.ID)
	if err != nil {
		return storageErr("update role", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("role %d: %w", role.ID, ErrNotFound)
	}
	role.UpdatedAt = ts
	return nil
}

// DeleteRole removes a role together with every assignment of it.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return s.RunInTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM role_assignments WHERE role_id = $1`, id); err != nil {
			return storageErr("delete role assignments", err)
		}
		res, err := tx.q.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return storageErr("delete role", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("role %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Assignments

const assignmentColumns = `
	ra.id, ra.user_id, ra.role_id, r.name, ra.assigned_by, ra.reason,
	ra.effective_date, ra.expiry_date, ra.created_at, ra.updated_at`

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var (
		a          RoleAssignment
		assignedBy sql.NullInt64
		expiry     sql.NullTime
	)
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &assignedBy, &a.Reason,
		&a.EffectiveDate, &expiry, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if assignedBy.Valid {
		id := assignedBy.Int64
		a.AssignedBy = &id
	}
	if expiry.Valid {
		t := expiry.Time.UTC()
		a.ExpiryDate = &t
	}
	a.EffectiveDate = a.EffectiveDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func (s *Store) queryAssignments(ctx context.Context, op, where string, args ...interface{}) ([]RoleAssignment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE `+where+`
		ORDER BY ra.effective_date DESC, ra.id`, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// ActiveAssignments returns the assignments of userID whose window contains
// asOf: effective_date <= asOf and (no expiry or expiry_date > asOf).
func (s *Store) ActiveAssignments(ctx context.Context, userID int64, asOf time.Time) ([]RoleAssignment, error) {
	return s.queryAssignments(ctx, "active assignments",
		`ra.user_id = $1 AND ra.effective_date <= $2 AND (ra.expiry_date IS NULL OR ra.expiry_date > $2)`,
		userID, asOf.UTC())
}

// ListAssignments returns every assignment of userID, active or not.
func (s *Store) ListAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	return s.queryAssignments(ctx, "list assignments", `ra.user_id = $1`, userID)
}

// NextTransition returns the earliest effective or expiry boundary of userID
// strictly after asOf, or nil when the active role set can no longer change
// without a write.
func (s *Store) NextTransition(ctx context.Context, userID int64, asOf time.Time) (*time.Time, error) {
	asOf = asOf.UTC()
	rows, err := s.q.QueryContext(ctx, `
		SELECT effective_date, expiry_date
		FROM role_assignments
		WHERE user_id = $1 AND (effective_date > $2 OR expiry_date > $2)
	`, userID, asOf)
	if err != nil {
		return nil, storageErr("next transition", err)
	}
	defer rows.Close()

	var next *time.Time
	consider := func(t time.Time) {
		t = t.UTC()
		if t.After(asOf) && (next == nil || t.Before(*next)) {
			next = &t
		}
	}

	for rows.Next() {
		var (
			effective time.Time
			expiry    sql.NullTime
		)
		if err := rows.Scan(&effective, &expiry); err != nil {
			return nil, storageErr("next transition", err)
		}
		consider(effective)
		if expiry.Valid {
			consider(expiry.Time)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("next transition", err)
	}
	return next, nil
}

// GetAssignment retrieves the binding of userID to roleID.
func (s *Store) GetAssignment(ctx context.Context, userID, roleID int64) (*RoleAssignment, error) {
	a, err := scanAssignment(s.q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1 AND ra.role_id = $2
	`, userID, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assignment of role %d to user %d: %w", roleID, userID, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get assignment", err)
	}
	return a, nil
}

// UpsertAssignment writes a binding keyed by (user_id, role_id) in a single
// statement. An existing row keeps its id and created_at; everything else is
// replaced. Created reports whether a new row was inserted.
func (s *Store) UpsertAssignment(ctx context.Context, a *RoleAssignment) (created bool, err error) {
	var existingCreatedAt time.Time
	err = s.q.QueryRowContext(ctx,
		`SELECT created_at FROM role_assignments WHERE user_id = $1 AND role_id = $2`,
		a.UserID, a.RoleID).Scan(&existingCreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return false, storageErr("upsert assignment", err)
	}

	ts := now()
	var expiry interface{}
	if a.ExpiryDate != nil {
		expiry = a.ExpiryDate.UTC()
	}

	err = s.q.QueryRowContext(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_by, reason, effective_date, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			assigned_by = excluded.assigned_by,
			reason = excluded.reason,
			effective_date = excluded.effective_date,
			expiry_date = excluded.expiry_date,
			updated_at = excluded.updated_at
		RETURNING id
	`, a.UserID, a.RoleID, a.AssignedBy, a.Reason, a.EffectiveDate.UTC(), expiry, ts, ts).Scan(&a.ID)
	if err != nil {
		return false, storageErr("upsert assignment", err)
	}

	a.EffectiveDate = a.EffectiveDate.UTC()
	if a.ExpiryDate != nil {
		t := a.ExpiryDate.UTC()
		a.ExpiryDate = &t
	}
	a.UpdatedAt = ts
	if created {
		a.CreatedAt = ts
	} else {
		a.CreatedAt = existingCreatedAt.UTC()
	}
	return created, nil
}

// DeleteAssignment removes the binding of userID to roleID.
func (s *Store) DeleteAssignment(ctx context.Context, userID, roleID int64) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return storageErr("delete assignment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment of role %d to user %d: %w", roleID, userID, ErrNotFound)
	}
	return nil
}

// UserIDsWithRole returns every user holding roleID, active or not.
func (s *Store) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM role_assignments WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, storageErr("users with role", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("users with role", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("users with role", err)
	}
	return ids, nil
}
