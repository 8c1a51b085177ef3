// Package rbac provides role-based access control for the patient-portal backend.
//
// # Overview
//
// Given a principal, the package determines which (entity, action) pairs the
// principal may perform and evaluates single authorization checks, falling back
// to record ownership when no role grants blanket access.
//
// # Architecture
//
// The package consists of five components:
//
//  1. Catalog: immutable map of role name to permission set (catalog.go)
//  2. Store: users, roles and time-bounded role assignments (store.go)
//  3. Aggregator: active roles and merged permissions of a user (checker.go)
//  4. Evaluator: the ordered allow/deny decision (checker.go, ownership.go)
//  5. Administration: assignment, revocation, role edits and seeding (admin.go, seed.go)
//
// # Permissions
//
// A permission set maps an entity to the actions granted on it:
//
//	{"patients": ["create", "read", "update"], "hl7": ["read"]}
//
// The "*" entity applies to every entity and the "*" action to every action,
// so ADMIN is simply {"*": ["*"]} and VIEWER is {"*": ["read"]}.
//
// # Evaluation Order
//
// Check walks these rules and stops at the first that applies:
//
//	unauthenticated or inactive principal   deny
//	superuser                               allow
//	merged["*"] allows action               allow
//	merged[entity] allows action            allow
//	principal created the record            allow read/update
//	principal created the linked patient    allow read/update
//	otherwise                               deny
//
// Ownership never grants delete. A storage failure is returned as an error
// matching ErrStorage, never as a deny.
//
// # Active Roles
//
// An assignment is active when effective_date <= now < expiry_date (a nil
// expiry is open-ended). Superusers always have exactly [ADMIN]; staff users
// with no active assignment get [MANAGER].
//
// # Caching
//
// Resolved role names may be cached per user through a PermissionCache
// (MemoryCache or RedisCache). An entry never outlives the user's next
// assignment boundary, so a future assignment becomes active on time without
// any write, and every administrative write invalidates the affected users.
// Invalidation advances a per-user generation, and a load that read the store
// before the invalidation cannot write its result back afterwards.
//
// # Usage Example
//
//	m := rbac.NewManager(db, rbac.DefaultConfig())
//	if _, err := m.Initialize(ctx, rbac.SeedOptions{}); err != nil {
//		return err
//	}
//
//	_, err := m.GetAdmin().AssignRoles(ctx, rbac.AssignRequest{
//		ActingAdmin:  admin,
//		TargetUserID: nurse.ID,
//		RoleNames:    []string{"STAFF"},
//	})
//
//	ok, err := m.GetChecker().Authorize(ctx, nurse, rbac.EntityPatients, rbac.ActionUpdate,
//		rbac.PatientRecord{ID: p.ID, CreatedBy: p.CreatedBy})
//
// # HTTP Middleware
//
//	mw := m.GetMiddleware()
//	mux.Handle("/patients/", mw.RequirePermission(rbac.EntityPatients, rbac.ActionRead)(h))
//	mux.Handle("/roles/assign", mw.Protect("roles.assign", mw.RequireAdmin())(assignHandler))
//
// Anonymous requests get 401, denials 403 and storage failures 500. Handlers
// report AssignRoles failures with WriteError, which renders a
// *ValidationError as 400 with per-field messages.
package rbac
