package rbac

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

const (
	detailUnauthenticated = "Authentication credentials were not provided."
	detailForbidden       = "You do not have permission to perform this action."
	detailNotFound        = "Not found."
	detailCheckFailed     = "Permission check failed."
	detailInvalid         = "Invalid request."
)

// WriteError renders err from a permission check or role administration call.
// A *ValidationError is 400 with its field errors, ErrNotFound is 404 and
// anything else, storage failures included, is 500.
func WriteError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.WriteFieldErrors(w, detailInvalid, verr.FieldErrors())
	case errors.Is(err, ErrNotFound):
		httputil.WriteDetail(w, http.StatusNotFound, detailNotFound)
	default:
		httputil.WriteDetail(w, http.StatusInternalServerError, detailCheckFailed)
	}
}

// RecordLoader resolves the record a request addresses so the ownership
// fallback can apply. Returning ErrNotFound yields 404 and a *ValidationError
// yields 400.
type RecordLoader func(r *http.Request) (Owned, error)

// PathRecordLoader reads the record ID from the mux path parameter param and
// resolves it with lookup. A missing or malformed ID is reported as not found.
func PathRecordLoader(param string, lookup func(ctx context.Context, id int64) (Owned, error)) RecordLoader {
	return func(r *http.Request) (Owned, error) {
		id, err := httputil.ParsePathInt64(r, param)
		if err != nil {
			return nil, ErrNotFound
		}
		return lookup(r.Context(), id)
	}
}

// PermissionMiddleware provides middleware for permission checking. The
// principal is read with auth.UserFromContext; an upstream authenticator is
// expected to have stored it.
type PermissionMiddleware struct {
	checker Checker
	logger  *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, logger *observability.Logger) *PermissionMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PermissionMiddleware{
		checker: checker,
		logger:  logger,
	}
}

// RequirePermission creates middleware that requires action on entity
func (pm *PermissionMiddleware) RequirePermission(entity Entity, action Action) func(http.Handler) http.Handler {
	return pm.RequireRecordPermission(entity, action, nil)
}

// RequireRecordPermission is RequirePermission with the ownership fallback
// evaluated against the record load returns. A nil load addresses no record.
func (pm *PermissionMiddleware) RequireRecordPermission(entity Entity, action Action, load RecordLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserFromContext(r.Context())
			if !user.IsAuthenticated() {
				httputil.WriteDetail(w, http.StatusUnauthorized, detailUnauthenticated)
				return
			}

			var resource Owned
			if load != nil {
				rec, err := load(r)
				if err != nil {
					if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrValidation) {
						pm.logger.WithError(err).Error("Failed to load record for permission check")
					}
					WriteError(w, err)
					return
				}
				resource = rec
			}

			allowed, err := pm.checker.Authorize(r.Context(), user, entity, action, resource)
			if err != nil {
				pm.logger.WithError(err).Error("Permission check failed")
				WriteError(w, err)
				return
			}

			if !allowed {
				httputil.WriteDetail(w, http.StatusForbidden, detailForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Protect wraps guards with panic recovery, a request ID and a server span
// named operation, outermost first. The request ID is in place before any
// guard runs, so denials audited by the checker carry it.
func (pm *PermissionMiddleware) Protect(operation string, guards ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(pm.logger),
		httputil.RequestIDMiddleware,
		httputil.TracingMiddleware(operation),
	}
	return httputil.Chain(append(stack, guards...)...)
}

// RequireRole creates middleware that requires any of the named active roles
func (pm *PermissionMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	want := make(map[string]bool, len(roles))
	for _, name := range roles {
		want[NormalizeRoleName(name)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserFromContext(r.Context())
			if !user.IsAuthenticated() {
				httputil.WriteDetail(w, http.StatusUnauthorized, detailUnauthenticated)
				return
			}

			ok, err := pm.hasAnyRole(r, user, want)
			if err != nil {
				pm.logger.WithError(err).Error("Role check failed")
				httputil.WriteDetail(w, http.StatusInternalServerError, detailCheckFailed)
				return
			}
			if !ok {
				httputil.WriteDetail(w, http.StatusForbidden, detailForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin allows only principals holding ADMIN.
func (pm *PermissionMiddleware) RequireAdmin() func(http.Handler) http.Handler {
	return pm.RequireRole(RoleAdmin)
}

// RequireManagerOrReadOnly lets safe methods through for everyone and
// restricts every other method to MANAGER or ADMIN.
func (pm *PermissionMiddleware) RequireManagerOrReadOnly() func(http.Handler) http.Handler {
	writers := pm.RequireRole(RoleManager, RoleAdmin)

	return func(next http.Handler) http.Handler {
		guarded := writers(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

func (pm *PermissionMiddleware) hasAnyRole(r *http.Request, user *auth.User, want map[string]bool) (bool, error) {
	active, err := pm.checker.GetActiveRoles(r.Context(), user)
	if err != nil {
		return false, err
	}
	for _, name := range active {
		if want[name] {
			return true, nil
		}
	}
	return false, nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
