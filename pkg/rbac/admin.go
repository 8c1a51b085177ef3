package rbac

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Assignment outcomes reported to the metrics recorder
const (
	OutcomeCreated  = "created"
	OutcomeUpdated  = "updated"
	OutcomeRejected = "rejected"
	OutcomeRevoked  = "revoked"
)

// CacheInvalidator drops cached role sets after a write.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, userIDs ...int64) error
}

// AssignRequest grants one or more roles to a user over a single window.
type AssignRequest struct {
	// ActingAdmin is recorded as assigned_by; nil means the system.
	ActingAdmin  *auth.User `json:"-" validate:"-"`
	TargetUserID int64      `json:"target_user_id" validate:"required,gt=0"`
	RoleNames    []string   `json:"roles" validate:"required,min=1,dive,required"`
	// EffectiveDate defaults to now.
	EffectiveDate *time.Time `json:"effective_date"`
	ExpiryDate    *time.Time `json:"expiry_date"`
	Reason        string     `json:"reason" validate:"max=255"`
}

// RevokeRequest removes one binding.
type RevokeRequest struct {
	ActingAdmin  *auth.User `json:"-" validate:"-"`
	TargetUserID int64      `json:"target_user_id" validate:"required,gt=0"`
	RoleName     string     `json:"role" validate:"required"`
	Reason       string     `json:"reason" validate:"max=255"`
}

// AdminConfig wires an Admin.
type AdminConfig struct {
	Store *Store
	// Invalidator is usually the PermissionChecker sharing the cache.
	Invalidator CacheInvalidator
	AuditLogger audit.Logger
	Recorder    observability.Recorder
	Logger      *observability.Logger
	Now         func() time.Time
}

// Admin performs role and assignment administration.
type Admin struct {
	store       *Store
	invalidator CacheInvalidator
	auditLog    audit.Logger
	recorder    observability.Recorder
	logger      *observability.Logger
	now         func() time.Time
	validate    *validator.Validate
}

// NewAdmin creates an Admin. Only Store is required.
func NewAdmin(cfg AdminConfig) *Admin {
	a := &Admin{
		store:       cfg.Store,
		invalidator: cfg.Invalidator,
		auditLog:    cfg.AuditLogger,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		now:         cfg.Now,
		validate:    newValidator(),
	}
	if a.auditLog == nil {
		a.auditLog = audit.NopLogger()
	}
	if a.recorder == nil {
		a.recorder = observability.NopRecorder()
	}
	if a.logger == nil {
		a.logger = observability.NewNopLogger()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// structErrors converts validator failures into a ValidationError.
func (a *Admin) structErrors(req interface{}) *ValidationError {
	verr := &ValidationError{}
	err := a.validate.Struct(req)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("request", err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i >= 0 {
			field = field[:i]
		}
		verr.Add(field, fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func actorID(u *auth.User) *int64 {
	if u == nil {
		return nil
	}
	id := u.ID
	return &id
}

// AssignRoles upserts every requested role for the target user. The batch is
// validated as a whole first: any unknown role name rejects every role and
// nothing is written.
func (a *Admin) AssignRoles(ctx context.Context, req AssignRequest) ([]AssignmentResult, error) {
	results, err := a.assignRoles(ctx, req)

	target := req.TargetUserID
	eventType := audit.EventTypeRoleAssign
	if errors.Is(err, ErrValidation) {
		eventType = audit.EventTypeRoleAssignReject
		a.recorder.RecordAssignment(ctx, OutcomeRejected)
	}
	var changes *audit.ChangeDetails
	if err == nil {
		changes = assignmentChanges(results)
	}
	if logErr := audit.LogRoleChange(ctx, a.auditLog, eventType, actorID(req.ActingAdmin), &target, req.RoleNames, changes, err); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record role assignment")
	}

	return results, err
}

func (a *Admin) assignRoles(ctx context.Context, req AssignRequest) ([]AssignmentResult, error) {
	verr := a.structErrors(req)
	if !verr.Empty() {
		return nil, verr
	}

	// distinct names in request order
	var names []string
	seen := make(map[string]bool, len(req.RoleNames))
	for _, raw := range req.RoleNames {
		name := NormalizeRoleName(raw)
		if name == "" {
			verr.Add("roles", "must not be blank")
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	effective := a.now().UTC()
	if req.EffectiveDate != nil {
		effective = req.EffectiveDate.UTC()
	}
	if req.ExpiryDate != nil && !req.ExpiryDate.After(effective) {
		verr.Add("expiry_date", "must be after effective_date")
	}

	if _, err := a.store.GetUser(ctx, req.TargetUserID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		verr.Add("target_user_id", "user does not exist")
	}

	roles, err := a.store.FindRolesByName(ctx, names)
	if err != nil {
		return nil, err
	}
	reported := make(map[string]bool)
	for _, raw := range req.RoleNames {
		name := NormalizeRoleName(raw)
		if name == "" || reported[name] {
			continue
		}
		if _, ok := roles[name]; !ok {
			reported[name] = true
			verr.UnknownRoles = append(verr.UnknownRoles, strings.TrimSpace(raw))
		}
	}

	if !verr.Empty() {
		return nil, verr
	}

	results := make([]AssignmentResult, 0, len(names))
	err = a.store.RunInTx(ctx, func(tx *Store) error {
		for _, name := range names {
			role := roles[name]
			assignment := RoleAssignment{
				UserID:        req.TargetUserID,
				RoleID:        role.ID,
				RoleName:      role.Name,
				AssignedBy:    actorID(req.ActingAdmin),
				Reason:        req.Reason,
				EffectiveDate: effective,
				ExpiryDate:    req.ExpiryDate,
			}
			created, err := tx.UpsertAssignment(ctx, &assignment)
			if err != nil {
				return err
			}
			results = append(results, AssignmentResult{Assignment: assignment, Role: role, Created: created})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Created {
			a.recorder.RecordAssignment(ctx, OutcomeCreated)
		} else {
			a.recorder.RecordAssignment(ctx, OutcomeUpdated)
		}
	}

	a.invalidate(ctx, req.TargetUserID)

	a.logger.WithFields(map[string]interface{}{
		"target_user_id": req.TargetUserID,
		"roles":          names,
	}).Info("Roles assigned")

	return results, nil
}

func assignmentChanges(results []AssignmentResult) *audit.ChangeDetails {
	after := make(map[string]interface{}, len(results))
	for _, r := range results {
		entry := map[string]interface{}{
			"effective_date": r.Assignment.EffectiveDate,
			"created":        r.Created,
		}
		if r.Assignment.ExpiryDate != nil {
			entry["expiry_date"] = *r.Assignment.ExpiryDate
		}
		after[r.Role.Name] = entry
	}
	return &audit.ChangeDetails{After: after}
}

func (a *Admin) invalidate(ctx context.Context, userIDs ...int64) {
	if a.invalidator == nil || len(userIDs) == 0 {
		return
	}
	if err := a.invalidator.InvalidateCache(ctx, userIDs...); err != nil {
		a.logger.WithError(err).Warn("Failed to invalidate permission cache")
	}
}

// RevokeRole removes the binding of the target user to the named role.
func (a *Admin) RevokeRole(ctx context.Context, req RevokeRequest) error {
	err := a.revokeRole(ctx, req)

	target := req.TargetUserID
	if logErr := audit.LogRoleChange(ctx, a.auditLog, audit.EventTypeRoleRevoke, actorID(req.ActingAdmin), &target, []string{NormalizeRoleName(req.RoleName)}, nil, err); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record role revocation")
	}
	return err
}

func (a *Admin) revokeRole(ctx context.Context, req RevokeRequest) error {
	verr := a.structErrors(req)
	if !verr.Empty() {
		return verr
	}

	role, err := a.store.GetRoleByName(ctx, req.RoleName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &ValidationError{UnknownRoles: []string{strings.TrimSpace(req.RoleName)}}
		}
		return err
	}

	if err := a.store.DeleteAssignment(ctx, req.TargetUserID, role.ID); err != nil {
		return err
	}

	a.recorder.RecordAssignment(ctx, OutcomeRevoked)
	a.invalidate(ctx, req.TargetUserID)
	return nil
}

// ListAssignments returns every assignment of userID, including ones not yet
// effective or already expired.
func (a *Admin) ListAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	return a.store.ListAssignments(ctx, userID)
}

// CreateRole defines a new role row.
func (a *Admin) CreateRole(ctx context.Context, actor *auth.User, name, description string, perms Permissions) (*Role, error) {
	role, err := a.createRole(ctx, name, description, perms)

	var changes *audit.ChangeDetails
	if role != nil {
		changes = &audit.ChangeDetails{After: map[string]interface{}{"permissions": role.Permissions.ToMap()}}
	}
	if logErr := audit.LogRoleChange(ctx, a.auditLog, audit.EventTypeRoleCreate, actorID(actor), nil, []string{NormalizeRoleName(name)}, changes, err); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record role creation")
	}
	return role, err
}

func (a *Admin) createRole(ctx context.Context, name, description string, perms Permissions) (*Role, error) {
	name = NormalizeRoleName(name)
	if name == "" {
		verr := &ValidationError{}
		verr.Add("name", "is required")
		return nil, verr
	}

	if _, err := a.store.GetRoleByName(ctx, name); err == nil {
		return nil, fmt.Errorf("role %q: %w", name, ErrRoleExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	role := &Role{Name: name, Description: description, Permissions: perms.Clone()}
	if err := a.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRolePermissions replaces the stored permission set of a role.
func (a *Admin) UpdateRolePermissions(ctx context.Context, actor *auth.User, name string, perms Permissions) (*Role, error) {
	role, before, err := a.updateRolePermissions(ctx, name, perms)

	var changes *audit.ChangeDetails
	if err == nil {
		changes = &audit.ChangeDetails{
			Before: map[string]interface{}{"permissions": before.ToMap()},
			After:  map[string]interface{}{"permissions": role.Permissions.ToMap()},
		}
	}
	if logErr := audit.LogRoleChange(ctx, a.auditLog, audit.EventTypeRoleUpdate, actorID(actor), nil, []string{NormalizeRoleName(name)}, changes, err); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record role update")
	}
	return role, err
}

func (a *Admin) updateRolePermissions(ctx context.Context, name string, perms Permissions) (*Role, Permissions, error) {
	role, err := a.store.GetRoleByName(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	before := role.Permissions

	role.Permissions = perms.Clone()
	if err := a.store.UpdateRole(ctx, role); err != nil {
		return nil, nil, err
	}

	holders, err := a.store.UserIDsWithRole(ctx, role.ID)
	if err != nil {
		return nil, nil, err
	}
	a.invalidate(ctx, holders...)
	return role, before, nil
}

// DeleteRole removes a role and every assignment of it.
func (a *Admin) DeleteRole(ctx context.Context, actor *auth.User, name string) error {
	err := a.deleteRole(ctx, name)
	if logErr := audit.LogRoleChange(ctx, a.auditLog, audit.EventTypeRoleDelete, actorID(actor), nil, []string{NormalizeRoleName(name)}, nil, err); logErr != nil {
		a.logger.WithError(logErr).Warn("Failed to record role deletion")
	}
	return err
}

func (a *Admin) deleteRole(ctx context.Context, name string) error {
	role, err := a.store.GetRoleByName(ctx, name)
	if err != nil {
		return err
	}

	holders, err := a.store.UserIDsWithRole(ctx, role.ID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteRole(ctx, role.ID); err != nil {
		return err
	}
	a.invalidate(ctx, holders...)
	return nil
}
