package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event. Implementations fill in ID and Timestamp
	// when they are empty.
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent builds an event stamped with a fresh ID, the current UTC time and
// the request ID carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// prepare fills the fields a caller may have left empty.
func prepare(ctx context.Context, event *AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok && logger != nil {
		return logger
	}
	return NopLogger()
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// NopLogger returns a logger that discards every event.
func NopLogger() Logger {
	return noOpLogger{}
}

// LogDenied records an authorization denial.
func LogDenied(ctx context.Context, logger Logger, userID *int64, entity, action, reason string) error {
	event := NewEvent(ctx, EventTypeAuthzAccessDenied, EventStatusDenied)
	event.ActorID = userID
	event.Entity = entity
	event.Action = action
	event.Message = "access denied: " + reason
	return logger.Log(ctx, event)
}

// LogRoleChange records a role administration event. A nil err is a success.
func LogRoleChange(ctx context.Context, logger Logger, eventType EventType, actorID, targetUserID *int64, roleNames []string, changes *ChangeDetails, err error) error {
	status := EventStatusSuccess
	if err != nil {
		status = EventStatusFailure
	}
	event := NewEvent(ctx, eventType, status)
	event.ActorID = actorID
	event.TargetUserID = targetUserID
	event.RoleName = strings.Join(roleNames, ",")
	event.Changes = changes
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return logger.Log(ctx, event)
}
