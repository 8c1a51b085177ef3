package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DBLogger writes audit events to the audit_events table. The table is
// created by the rbac migrations; DBLogger never issues DDL.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

const eventColumns = `
	id, occurred_at, event_type, status,
	actor_id, target_user_id,
	role_name, entity, action,
	request_id, message, error_message,
	metadata, changes`

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	prepare(ctx, event)

	var metadataJSON, changesJSON sql.NullString

	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	if event.Changes != nil {
		b, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changesJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO audit_events (` + eventColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14
		)`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorID, event.TargetUserID,
		event.RoleName, event.Entity, event.Action,
		event.RequestID, event.Message, event.ErrorMessage,
		metadataJSON, changesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Search returns events matching filter, newest first. Offset only applies
// together with a positive Limit.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		conds = append(conds, "occurred_at >= "+next(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		conds = append(conds, "occurred_at <= "+next(filter.EndTime.UTC()))
	}
	if filter.UserID != nil {
		p := next(*filter.UserID)
		conds = append(conds, fmt.Sprintf("(actor_id = %s OR target_user_id = %s)", p, p))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			placeholders[i] = next(string(et))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+next(string(filter.Status)))
	}
	if filter.RoleName != "" {
		conds = append(conds, "role_name = "+next(filter.RoleName))
	}

	query := "SELECT " + eventColumns + " FROM audit_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id"

	if filter.Limit > 0 {
		query += " LIMIT " + next(filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET " + next(filter.Offset)
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		event                                        AuditEvent
		eventType, status                            string
		actorID, targetUserID                        sql.NullInt64
		roleName, entity, action, requestID, message sql.NullString
		errorMessage, metadataJSON, changesJSON      sql.NullString
	)

	err := rows.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&actorID, &targetUserID,
		&roleName, &entity, &action,
		&requestID, &message, &errorMessage,
		&metadataJSON, &changesJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	if actorID.Valid {
		id := actorID.Int64
		event.ActorID = &id
	}
	if targetUserID.Valid {
		id := targetUserID.Int64
		event.TargetUserID = &id
	}
	event.RoleName = roleName.String
	event.Entity = entity.String
	event.Action = action.String
	event.RequestID = requestID.String
	event.Message = message.String
	event.ErrorMessage = errorMessage.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if changesJSON.Valid && changesJSON.String != "" {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changesJSON.String), event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return &event, nil
}

// Close is a no-op; the database handle is shared with the store.
func (l *DBLogger) Close() error {
	return nil
}
