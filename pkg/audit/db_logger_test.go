package audit

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var searchColumns = []string{
	"id", "occurred_at", "event_type", "status",
	"actor_id", "target_user_id",
	"role_name", "entity", "action",
	"request_id", "message", "error_message",
	"metadata", "changes",
}

func TestNewDBLogger(t *testing.T) {
	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("no DDL issued", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		actor := int64(1)
		event := NewEvent(context.Background(), EventTypeRoleAssign, EventStatusSuccess)
		event.ActorID = &actor
		event.RoleName = "STAFF"
		event.Metadata["created"] = true

		mock.ExpectExec("INSERT INTO audit_events").
			WithArgs(
				event.ID, sqlmock.AnyArg(), "role.assign", "success",
				&actor, nil,
				"STAFF", "", "",
				"", "", "",
				sql.NullString{String: `{"created":true}`, Valid: true}, sql.NullString{},
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fills missing id", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 1))

		event := &AuditEvent{EventType: EventTypeSeedRoles, Status: EventStatusSuccess}
		require.NoError(t, logger.Log(context.Background(), event))
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("disk full"))

		err := logger.Log(context.Background(), NewEvent(context.Background(), EventTypeRoleRevoke, EventStatusSuccess))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
	})

	t.Run("unmarshalable metadata", func(t *testing.T) {
		db, _ := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		event := NewEvent(context.Background(), EventTypeRoleRevoke, EventStatusSuccess)
		event.Metadata["bad"] = make(chan int)
		err := logger.Log(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to marshal metadata")
	})
}

func TestDBLogger_Search(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("all filters", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		uid := int64(7)
		start := now.Add(-time.Hour)
		end := now
		filter := SearchFilter{
			StartTime:  &start,
			EndTime:    &end,
			UserID:     &uid,
			EventTypes: []EventType{EventTypeRoleAssign, EventTypeRoleRevoke},
			Status:     EventStatusSuccess,
			RoleName:   "STAFF",
			Limit:      10,
			Offset:     5,
		}

		rows := sqlmock.NewRows(searchColumns).
			AddRow("id-1", now, "role.assign", "success", nil, int64(7), "STAFF", nil, nil, "req", "", nil, `{"created":true}`, `{"after":{"reason":"x"}}`)

		mock.ExpectQuery(regexp.QuoteMeta(
			"WHERE occurred_at >= $1 AND occurred_at <= $2 AND (actor_id = $3 OR target_user_id = $3) AND event_type IN ($4, $5) AND status = $6 AND role_name = $7 ORDER BY occurred_at DESC, id LIMIT $8 OFFSET $9",
		)).
			WithArgs(start, end, uid, "role.assign", "role.revoke", "success", "STAFF", 10, 5).
			WillReturnRows(rows)

		events, err := logger.Search(context.Background(), filter)
		require.NoError(t, err)
		require.Len(t, events, 1)

		ev := events[0]
		assert.Equal(t, "id-1", ev.ID)
		assert.Nil(t, ev.ActorID)
		assert.Equal(t, int64(7), *ev.TargetUserID)
		assert.Equal(t, "req", ev.RequestID)
		assert.Equal(t, true, ev.Metadata["created"])
		require.NotNil(t, ev.Changes)
		assert.Equal(t, "x", ev.Changes.After["reason"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no filters", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		mock.ExpectQuery(`FROM audit_events ORDER BY occurred_at DESC, id$`).
			WillReturnRows(sqlmock.NewRows(searchColumns))

		events, err := logger.Search(context.Background(), SearchFilter{Offset: 3})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

		_, err := logger.Search(context.Background(), SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to search audit events")
	})

	t.Run("bad metadata json", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger, _ := NewDBLogger(db)

		mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(searchColumns).
			AddRow("id-1", now, "role.assign", "success", nil, nil, nil, nil, nil, nil, nil, nil, "{oops", nil))

		_, err := logger.Search(context.Background(), SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal metadata")
	})
}

func TestDBLogger_Close(t *testing.T) {
	db, mock := setupMockDB(t)
	logger, _ := NewDBLogger(db)
	assert.NoError(t, logger.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
