package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(conn)
}

func TestOpenMigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	conn, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// Reopening the same file must not re-apply migrations.
	conn, err = Open(path)
	require.NoError(t, err)
	defer conn.Close()

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(allMigrations()), count)
}

func TestAssignOnlyClaimsPendingJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &Printer{Name: "voron-1", Active: true, SlotCount: 4}
	require.NoError(t, store.Printers.Create(ctx, p))

	j := &Job{ItemName: "benchy", EstDurationMin: 60}
	require.NoError(t, store.Jobs.Create(ctx, j))

	start := time.Now().UTC().Truncate(time.Minute)
	end := start.Add(time.Hour)

	assigned, err := store.Jobs.Assign(ctx, j.ID, p.ID, start, end)
	require.NoError(t, err)
	assert.True(t, assigned)

	// Second claim loses: the job is no longer pending.
	assigned, err = store.Jobs.Assign(ctx, j.ID, p.ID, start, end)
	require.NoError(t, err)
	assert.False(t, assigned)

	got, err := store.Jobs.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusScheduled, got.Status)
	require.NotNil(t, got.PrinterID)
	assert.Equal(t, p.ID, *got.PrinterID)
	require.NotNil(t, got.ScheduledStart)
	assert.True(t, start.Equal(*got.ScheduledStart))
}

func TestResetToPendingClearsAssignment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &Printer{Name: "voron-1", Active: true, SlotCount: 4}
	require.NoError(t, store.Printers.Create(ctx, p))

	j := &Job{ItemName: "benchy", EstDurationMin: 60}
	require.NoError(t, store.Jobs.Create(ctx, j))

	start := time.Now().UTC()
	_, err := store.Jobs.Assign(ctx, j.ID, p.ID, start, start.Add(time.Hour))
	require.NoError(t, err)

	_, err = store.DB.ExecContext(ctx, ResetJobToPending, j.ID)
	require.NoError(t, err)

	got, err := store.Jobs.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, got.Status)
	assert.Nil(t, got.PrinterID)
	assert.Nil(t, got.ScheduledStart)
}

func TestGetPendingOrdersByPriorityThenAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Lower priority number means more urgent.
	later := &Job{ItemName: "later", EstDurationMin: 30, Priority: 5}
	urgent := &Job{ItemName: "urgent", EstDurationMin: 30, Priority: 0}
	held := &Job{ItemName: "held", EstDurationMin: 30, Priority: 0, Hold: true}
	require.NoError(t, store.Jobs.Create(ctx, later))
	require.NoError(t, store.Jobs.Create(ctx, urgent))
	require.NoError(t, store.Jobs.Create(ctx, held))
	require.NoError(t, store.Jobs.Update(ctx, held))

	pending, err := store.Jobs.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "urgent", pending[0].ItemName)
	assert.Equal(t, "later", pending[1].ItemName)
}
