// Package audit records role administration and authorization denials for
// compliance review.
//
// Events carry a UUID, a UTC timestamp, the acting user (nil for the system),
// the target user and the affected role, entity and action. Sinks implement
// Logger:
//
//   - FileLogger: JSON lines with size-based rotation
//   - DBLogger: rows in the audit_events table created by the rbac migrations
//   - MultiLogger: fan-out, synchronous by default
//   - NopLogger: the default when nothing is configured
//
// Usage:
//
//	logger := audit.NewMultiLogger(fileLogger, dbLogger)
//	_ = audit.LogRoleChange(ctx, logger, audit.EventTypeRoleAssign, &adminID, &userID, []string{"STAFF"}, nil, nil)
//
// Search past events through DBLogger.Search with a SearchFilter.
package audit
