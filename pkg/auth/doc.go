// Package auth defines the principal that authorization decisions are made for.
//
// # Overview
//
// Credential issuance and verification happen outside this module. Whatever
// verifies a credential resolves it to a *User and places it on the request
// context; everything downstream reads it back with UserFromContext.
//
//	ctx = auth.WithUser(ctx, user)
//	user := auth.UserFromContext(ctx) // nil for anonymous callers
//
// # Privilege Flags
//
// Two flags sit outside the role tables:
//
//	IsSuperuser - bypasses every authorization check
//	IsStaff     - falls back to the MANAGER role when no role assignment is active
//
// A nil *User, or a user with IsActive=false, is treated as unauthenticated.
//
// # Passwords
//
// Bootstrap administrator accounts store a bcrypt hash:
//
//	hash, err := auth.HashPassword("ChangeMe123!")
//	ok := auth.CheckPassword(hash, candidate)
package auth
