package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotkeeper/internal/events"
)

func TestAudit_SubscribeAndPrune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	bus := events.NewEventBus()
	db.SubscribeAudit(bus)

	require.NoError(t, bus.Publish(events.Event{
		Type:      events.HoldPlaced,
		Payload:   []byte(`{"hold_id":"h1"}`),
		CreatedAt: monday.Add(-48 * time.Hour),
	}))
	require.NoError(t, bus.PublishJSON(events.BookingCreated, map[string]string{"status": "pending"}))
	require.NoError(t, bus.PublishJSON("unrelated", nil))

	entries, err := db.ListAuditEvents(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.HoldPlaced, entries[0].EventType)
	assert.JSONEq(t, `{"hold_id":"h1"}`, entries[0].Payload)
	assert.Equal(t, events.BookingCreated, entries[1].EventType)

	n, err := db.DeleteAuditBefore(ctx, monday)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err = db.ListAuditEvents(ctx, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, events.BookingCreated, entries[0].EventType)
}

func TestBackupService(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 7}, zerolog.Nop())

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)

	restored, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, restored.Ping(ctx))
	require.NoError(t, restored.Close())

	stale := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	svc.Cleanup(ctx)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
