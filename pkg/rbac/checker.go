package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Decision reasons
const (
	ReasonUnauthenticated = "principal is not authenticated"
	ReasonSuperuser       = "superuser bypass"
	ReasonWildcardEntity  = "granted on all entities"
	ReasonEntity          = "granted on entity"
	ReasonOwner           = "principal created the record"
	ReasonLinkedOwner     = "principal created the linked patient"
	ReasonDeny            = "no role or ownership grants the action"
)

// DefaultCacheTTL bounds how long a resolved role set is reused.
const DefaultCacheTTL = 5 * time.Minute

// Checker resolves what a principal may do.
type Checker interface {
	// GetActiveRoles returns the sorted role names in force for user now.
	GetActiveRoles(ctx context.Context, user *auth.User) ([]string, error)

	// GetMergedPermissions returns the union of the catalog permissions of
	// every active role.
	GetMergedPermissions(ctx context.Context, user *auth.User) (Permissions, error)

	// Authorize reports whether user may perform action on entity. resource
	// may be nil when no specific record is addressed.
	Authorize(ctx context.Context, user *auth.User, entity Entity, action Action, resource Owned) (bool, error)

	// Check is Authorize with the matched rule and reason.
	Check(ctx context.Context, user *auth.User, entity Entity, action Action, resource Owned) (*Decision, error)

	// InvalidateCache drops any cached role set of the listed users
	InvalidateCache(ctx context.Context, userIDs ...int64) error
}

// AssignmentReader is the read side of the assignment store used by the
// checker.
type AssignmentReader interface {
	ActiveAssignments(ctx context.Context, userID int64, asOf time.Time) ([]RoleAssignment, error)
	NextTransition(ctx context.Context, userID int64, asOf time.Time) (*time.Time, error)
}

// PermissionChecker implements the Checker interface
type PermissionChecker struct {
	store    AssignmentReader
	catalog  *Catalog
	cache    PermissionCache
	cacheTTL time.Duration
	recorder observability.Recorder
	auditLog audit.Logger
	logger   *observability.Logger
	now      func() time.Time
	group    singleflight.Group
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithCache enables caching of resolved role sets for at most ttl.
func WithCache(cache PermissionCache, ttl time.Duration) CheckerOption {
	return func(pc *PermissionChecker) {
		pc.cache = cache
		if ttl > 0 {
			pc.cacheTTL = ttl
		}
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r observability.Recorder) CheckerOption {
	return func(pc *PermissionChecker) {
		if r != nil {
			pc.recorder = r
		}
	}
}

// WithAuditLogger sets where denials are recorded.
func WithAuditLogger(l audit.Logger) CheckerOption {
	return func(pc *PermissionChecker) {
		if l != nil {
			pc.auditLog = l
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *observability.Logger) CheckerOption {
	return func(pc *PermissionChecker) {
		if l != nil {
			pc.logger = l
		}
	}
}

// WithClock replaces time.Now as the evaluation instant.
func WithClock(now func() time.Time) CheckerOption {
	return func(pc *PermissionChecker) {
		if now != nil {
			pc.now = now
		}
	}
}

// NewPermissionChecker creates a new permission checker. A nil catalog means
// the built-in one.
func NewPermissionChecker(store AssignmentReader, catalog *Catalog, opts ...CheckerOption) *PermissionChecker {
	if catalog == nil {
		catalog = BuiltInCatalog()
	}
	pc := &PermissionChecker{
		store:    store,
		catalog:  catalog,
		cacheTTL: DefaultCacheTTL,
		recorder: observability.NopRecorder(),
		auditLog: audit.NopLogger(),
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

// Catalog returns the catalog permissions are resolved against.
func (pc *PermissionChecker) Catalog() *Catalog {
	return pc.catalog
}

// GetActiveRoles returns the sorted role names in force for user now
func (pc *PermissionChecker) GetActiveRoles(ctx context.Context, user *auth.User) ([]string, error) {
	if !user.IsAuthenticated() {
		return []string{}, nil
	}
	if user.IsSuperuser {
		return []string{RoleAdmin}, nil
	}

	names, err := pc.assignedRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 && user.IsStaff {
		return []string{RoleManager}, nil
	}
	return names, nil
}

// GetMergedPermissions returns the union of the permissions of every active role
func (pc *PermissionChecker) GetMergedPermissions(ctx context.Context, user *auth.User) (Permissions, error) {
	ctx, span := observability.Tracer().Start(ctx, "rbac.GetMergedPermissions")
	defer span.End()

	roles, err := pc.GetActiveRoles(ctx, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("rbac.roles", roles))

	return pc.merge(roles), nil
}

func (pc *PermissionChecker) merge(roles []string) Permissions {
	merged := Permissions{}
	for _, name := range roles {
		merged.Merge(pc.catalog.Lookup(name))
	}
	return merged
}

// roleLoadTimeout bounds a shared role load, which no longer follows the
// cancellation of the request that started it.
const roleLoadTimeout = 30 * time.Second

// assignedRoles resolves the distinct role names of userID's active
// assignments, consulting the cache first. Concurrent misses for the same
// user and cache generation share one store round trip; a lookup starting
// after an invalidation gets a load of its own.
func (pc *PermissionChecker) assignedRoles(ctx context.Context, userID int64) ([]string, error) {
	key := strconv.FormatInt(userID, 10)
	var gen uint64
	cacheable := false

	if pc.cache != nil {
		roles, ok, err := pc.cache.Get(ctx, userID)
		if err != nil {
			pc.logger.WithError(err).WithField("user_id", userID).Warn("Permission cache read failed")
		}
		pc.recorder.RecordCacheLookup(ctx, pc.cache.Name(), ok)
		if ok {
			return roles, nil
		}

		gen, err = pc.cache.Generation(ctx, userID)
		if err != nil {
			pc.logger.WithError(err).WithField("user_id", userID).Warn("Permission cache generation read failed")
		} else {
			cacheable = true
			key += ":" + strconv.FormatUint(gen, 10)
		}
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := pc.group.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(loadCtx, roleLoadTimeout)
		defer cancel()
		return pc.loadRoles(ctx, userID, gen, cacheable)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.Err != nil {
		var se *StorageError
		if errors.As(res.Err, &se) {
			pc.recorder.RecordStorageError(ctx, se.Op)
		}
		return nil, res.Err
	}
	return append([]string{}, res.Val.([]string)...), nil
}

// loadRoles reads the active role names from the store. When cacheable, the
// result is stored under gen, which the cache ignores if userID was
// invalidated since gen was read.
func (pc *PermissionChecker) loadRoles(ctx context.Context, userID int64, gen uint64, cacheable bool) ([]string, error) {
	asOf := pc.now().UTC()

	assignments, err := pc.store.ActiveAssignments(ctx, userID, asOf)
	if err != nil {
		return nil, storageErr("active assignments", err)
	}

	seen := make(map[string]bool, len(assignments))
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		name := NormalizeRoleName(a.RoleName)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)

	if cacheable {
		ttl := pc.cacheTTL
		next, err := pc.store.NextTransition(ctx, userID, asOf)
		if err != nil {
			return nil, storageErr("next transition", err)
		}
		if next != nil {
			if until := next.Sub(asOf); until < ttl {
				ttl = until
			}
		}
		if err := pc.cache.Set(ctx, userID, gen, names, ttl); err != nil {
			pc.logger.WithError(err).WithField("user_id", userID).Warn("Permission cache write failed")
		}
	}

	return names, nil
}

// Authorize reports whether user may perform action on entity
func (pc *PermissionChecker) Authorize(ctx context.Context, user *auth.User, entity Entity, action Action, resource Owned) (bool, error) {
	decision, err := pc.Check(ctx, user, entity, action, resource)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Check evaluates a single authorization request
func (pc *PermissionChecker) Check(ctx context.Context, user *auth.User, entity Entity, action Action, resource Owned) (*Decision, error) {
	start := time.Now()

	ctx, span := observability.Tracer().Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("rbac.entity", string(entity)),
		attribute.String("rbac.action", string(action)),
	))
	defer span.End()

	decision, err := pc.evaluate(ctx, user, entity, action, resource)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		pc.logCheckFailure(ctx, user, entity, action, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("rbac.allowed", decision.Allowed),
		attribute.String("rbac.rule", string(decision.Rule)),
	)
	pc.recorder.RecordDecision(ctx, string(decision.Rule), decision.Allowed, time.Since(start))

	if !decision.Allowed {
		var userID *int64
		if user != nil {
			id := user.ID
			userID = &id
		}
		if err := audit.LogDenied(ctx, pc.auditLog, userID, string(entity), string(action), decision.Reason); err != nil {
			pc.logger.WithError(err).Warn("Failed to record denial")
		}
	}

	return decision, nil
}

func (pc *PermissionChecker) evaluate(ctx context.Context, user *auth.User, entity Entity, action Action, resource Owned) (*Decision, error) {
	decision := &Decision{Entity: entity, Action: action}

	if !user.IsAuthenticated() {
		decision.Rule = RuleUnauthenticated
		decision.Reason = ReasonUnauthenticated
		return decision, nil
	}

	if user.IsSuperuser {
		decision.Allowed = true
		decision.Rule = RuleSuperuser
		decision.Reason = ReasonSuperuser
		return decision, nil
	}

	roles, err := pc.GetActiveRoles(ctx, user)
	if err != nil {
		return nil, err
	}
	decision.Roles = roles
	merged := pc.merge(roles)

	if merged[EntityAll].Allows(action) {
		decision.Allowed = true
		decision.Rule = RuleWildcardEntity
		decision.Reason = ReasonWildcardEntity
		return decision, nil
	}

	if merged[entity].Allows(action) {
		decision.Allowed = true
		decision.Rule = RuleEntity
		decision.Reason = ReasonEntity
		return decision, nil
	}

	switch ownershipRule(user.ID, action, resource) {
	case RuleOwner:
		decision.Allowed = true
		decision.Rule = RuleOwner
		decision.Reason = ReasonOwner
		return decision, nil
	case RuleLinkedOwner:
		decision.Allowed = true
		decision.Rule = RuleLinkedOwner
		decision.Reason = ReasonLinkedOwner
		return decision, nil
	}

	decision.Rule = RuleDeny
	decision.Reason = ReasonDeny
	return decision, nil
}

func (pc *PermissionChecker) logCheckFailure(ctx context.Context, user *auth.User, entity Entity, action Action, err error) {
	pc.logger.WithError(err).WithFields(map[string]interface{}{
		"entity": string(entity),
		"action": string(action),
	}).Error("Authorization check failed")

	event := audit.NewEvent(ctx, audit.EventTypeAuthzCheckFailed, audit.EventStatusFailure)
	if user != nil {
		id := user.ID
		event.ActorID = &id
	}
	event.Entity = string(entity)
	event.Action = string(action)
	event.ErrorMessage = err.Error()
	if logErr := pc.auditLog.Log(ctx, event); logErr != nil {
		pc.logger.WithError(logErr).Warn("Failed to record check failure")
	}
}

// InvalidateCache drops any cached role set of the listed users
func (pc *PermissionChecker) InvalidateCache(ctx context.Context, userIDs ...int64) error {
	if pc.cache == nil || len(userIDs) == 0 {
		return nil
	}
	if err := pc.cache.Invalidate(ctx, userIDs...); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}
