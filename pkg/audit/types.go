package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzCheckFailed  EventType = "authz.check_failed"

	// Role assignment events
	EventTypeRoleAssign       EventType = "role.assign"
	EventTypeRoleAssignReject EventType = "role.assign_rejected"
	EventTypeRoleRevoke       EventType = "role.revoke"

	// Role definition events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"

	// Bootstrap events
	EventTypeSeedRoles EventType = "seed.roles"
	EventTypeSeedAdmin EventType = "seed.admin"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID is the acting user. Nil means the system itself.
	ActorID      *int64 `json:"actor_id,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`

	RoleName string `json:"role_name,omitempty"`
	Entity   string `json:"entity,omitempty"`
	Action   string `json:"action,omitempty"`

	RequestID    string                 `json:"request_id,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// SearchFilter narrows DBLogger.Search results. Zero values match everything.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	// UserID matches either the actor or the target of an event.
	UserID     *int64
	EventTypes []EventType
	Status     EventStatus
	RoleName   string

	Limit  int
	Offset int
}
