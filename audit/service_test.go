package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatmate-app/chatmate/server/model"
	"github.com/chatmate-app/chatmate/server/testutil"
)

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	userID := int64(2)
	svc.Log(Entry{
		TraceID:    "trace-123",
		UserID:     &userID,
		Action:     "signin",
		Request:    map[string]string{"email": "alice@example.com"},
		Response:   map[string]bool{"success": true},
		IP:         "127.0.0.1",
		DurationMs: 42,
	})

	// Stop flushes remaining entries
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	assert.Equal(t, "signin", logs[0].Action)
	assert.Equal(t, "127.0.0.1", logs[0].IP)
	assert.Equal(t, 42, logs[0].DurationMs)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, userID, *logs[0].UserID)
}

func TestLog_MultipleLogs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	for i := 0; i < 10; i++ {
		svc.Log(Entry{
			Action: "friend_request",
			IP:     "10.0.0.1",
		})
	}

	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.Equal(t, int64(10), count)
}

func TestLog_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	// 100 entries trigger an immediate batch flush inside the worker.
	for i := 0; i < 100; i++ {
		svc.Log(Entry{Action: "batch"})
	}

	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.GreaterOrEqual(t, count, int64(100))
}

func TestLog_NilUserID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	svc.Log(Entry{Action: "anonymous"})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	svc.Stop(context.Background())
	svc.Stop(context.Background()) // must not panic
}

func TestLog_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	// Flood past the 1024 channel buffer; the service must drop, not panic.
	for i := 0; i < 1030; i++ {
		svc.Log(Entry{Action: "flood"})
	}
	svc.Stop(context.Background())
}

func TestPrune(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	defer svc.Stop(context.Background())

	old := &model.AuditLog{Action: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	recent := &model.AuditLog{Action: "recent", CreatedAt: time.Now()}
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Create(recent).Error)

	require.NoError(t, svc.Prune(context.Background(), 24*time.Hour))

	var remaining []model.AuditLog
	db.Find(&remaining)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].Action)
}
