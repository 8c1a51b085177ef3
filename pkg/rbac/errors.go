package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrStorage matches every *StorageError. A storage failure is never a deny.
	ErrStorage = errors.New("rbac: storage failure")
	// ErrNotFound is returned when a role, user or assignment does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrRoleExists is returned by CreateRole for a name already in use.
	ErrRoleExists = errors.New("rbac: role already exists")
)

// ValidationError names every offending field of a rejected request.
type ValidationError struct {
	// Fields maps a request field to its problems.
	Fields map[string][]string
	// UnknownRoles lists every requested role name that does not exist, in
	// request order.
	UnknownRoles []string
}

// Add records a problem on field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Empty reports whether no problem has been recorded.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0 && len(e.UnknownRoles) == 0
}

// FieldErrors returns the problems per field, with unknown role names
// reported under "roles".
func (e *ValidationError) FieldErrors() map[string][]string {
	out := make(map[string][]string, len(e.Fields)+1)
	for f, msgs := range e.Fields {
		out[f] = append([]string{}, msgs...)
	}
	if len(e.UnknownRoles) > 0 {
		out["roles"] = append(out["roles"], "Unknown roles: "+strings.Join(e.UnknownRoles, ", "))
	}
	return out
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.UnknownRoles) > 0 {
		parts = append(parts, "unknown roles: "+strings.Join(e.UnknownRoles, ", "))
	}
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(e.Fields[f], "; ")))
	}
	if len(parts) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StorageError wraps a failure of the role or assignment store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("rbac: storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
