package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// User represents a principal on whose behalf checks are evaluated
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsSuperuser  bool      `json:"is_superuser"`
	IsStaff      bool      `json:"is_staff"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAuthenticated reports whether the user is a real, active principal.
// It is safe to call on a nil receiver.
func (u *User) IsAuthenticated() bool {
	return u != nil && u.IsActive
}

// WithUser stores the principal on the context
func WithUser(ctx context.Context, user *User) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, user)
	if user != nil {
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
	}
	return ctx
}

// UserFromContext returns the principal stored on the context, or nil
func UserFromContext(ctx context.Context) *User {
	if user, ok := ctx.Value(contextkeys.PrincipalKey).(*User); ok {
		return user
	}
	return nil
}
