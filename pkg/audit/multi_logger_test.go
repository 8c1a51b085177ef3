package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiLogger_Sync(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	event := &AuditEvent{EventType: EventTypeRoleCreate, Status: EventStatusSuccess}
	require.NoError(t, m.Log(context.Background(), event))

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.NotEmpty(t, a.events[0].ID)
	assert.Equal(t, a.events[0].ID, b.events[0].ID)
}

func TestMultiLogger_SyncErrorsDoNotStopDelivery(t *testing.T) {
	failing := &recordingLogger{err: errors.New("sink down")}
	ok := &recordingLogger{}
	m := NewMultiLogger(failing, ok)

	err := m.Log(context.Background(), NewEvent(context.Background(), EventTypeRoleDelete, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, ok.events, 1)
}

func TestMultiLogger_Async(t *testing.T) {
	failing := &recordingLogger{err: errors.New("sink down")}
	ok := &recordingLogger{}
	m := NewMultiLogger(failing, ok)
	m.SetAsync(true)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Log(ctx, NewEvent(ctx, EventTypeRoleAssign, EventStatusSuccess)))
	cancel()
	m.Wait()

	assert.Len(t, ok.events, 1)
	errs := m.Errors()
	require.Len(t, errs, 1)
	assert.Empty(t, m.Errors())
}

func TestMultiLogger_Empty(t *testing.T) {
	m := NewMultiLogger()
	assert.NoError(t, m.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, m.Close())
}

func TestMultiLogger_Close(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, b)
	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
