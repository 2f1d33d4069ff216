package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printfarm/internal/db"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return db.NewStore(conn)
}

func addTestPrinter(t *testing.T, store *db.Store) *db.Printer {
	t.Helper()
	p := &db.Printer{Name: "voron-1", Active: true, SlotCount: 4}
	require.NoError(t, store.Printers.Create(context.Background(), p))
	return p
}

// scheduleJob creates a job and assigns it to the printer at the given start.
func scheduleJob(t *testing.T, store *db.Store, printerID int64, item, file string, layers int, start time.Time) *db.Job {
	t.Helper()
	ctx := context.Background()
	j := &db.Job{
		ItemName:       item,
		FileName:       file,
		EstDurationMin: 60,
		EstLayers:      layers,
		Status:         db.JobStatusPending,
	}
	j.SetColors(nil)
	require.NoError(t, store.Jobs.Create(ctx, j))
	ok, err := store.Jobs.Assign(ctx, j.ID, printerID, start, start.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	j.Status = db.JobStatusScheduled
	return j
}

func TestCorrelateMatchesByFileName(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	job := scheduleJob(t, store, p.ID, "Baby Yoda", "BabyYoda.gcode.3mf", 300, now)
	scheduleJob(t, store, p.ID, "Benchy", "Benchy.3mf", 150, now.Add(time.Hour))

	c := NewCorrelator(2*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "BabyYoda.3mf", 0, now)
	require.NoError(t, err)

	require.True(t, result.Linked())
	assert.Equal(t, job.ID, result.Job.ID)
	assert.Equal(t, "name", result.Method)
	assert.Equal(t, scoreNameMatch, result.Score)
	assert.Empty(t, result.Displaced)
}

func TestCorrelateMatchesByUniqueLayerCount(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	scheduleJob(t, store, p.ID, "Benchy", "Benchy.3mf", 150, now)
	job := scheduleJob(t, store, p.ID, "Vase", "Vase.3mf", 412, now.Add(time.Hour))

	c := NewCorrelator(2*time.Hour, 10)
	// The device reports an opaque label the names can't match.
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "print_0042", 412, now)
	require.NoError(t, err)

	require.True(t, result.Linked())
	assert.Equal(t, job.ID, result.Job.ID)
	assert.Equal(t, "layers", result.Method)
}

func TestCorrelateLayerCountAmbiguityLinksNothing(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	// Both scheduled well outside the time window so the windowed fallback
	// stays out of the picture.
	farFuture := time.Now().UTC().Add(24 * time.Hour)

	j1 := scheduleJob(t, store, p.ID, "Left Bracket", "left.3mf", 200, farFuture)
	j2 := scheduleJob(t, store, p.ID, "Right Bracket", "right.3mf", 200, farFuture.Add(time.Hour))

	c := NewCorrelator(2*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "print_0001", 200, time.Now().UTC())
	require.NoError(t, err)

	// Two candidates share the layer count: ambiguous, so the print is
	// treated as ad-hoc and both schedules are bumped.
	assert.False(t, result.Linked())
	assert.Len(t, result.Displaced, 2)

	ctx := context.Background()
	for _, id := range []int64{j1.ID, j2.ID} {
		got, err := store.Jobs.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, db.JobStatusPending, got.Status)
		assert.Nil(t, got.PrinterID)
	}
}

func TestCorrelateZeroLayersDisablesLayerMatch(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	farFuture := time.Now().UTC().Add(24 * time.Hour)

	scheduleJob(t, store, p.ID, "Vase", "vase.3mf", 0, farFuture)

	c := NewCorrelator(2*time.Hour, 10)
	// Candidate has EstLayers 0 and the device reports 0; that must not
	// count as a layer match.
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "print_0099", 0, time.Now().UTC())
	require.NoError(t, err)

	assert.False(t, result.Linked())
	assert.Len(t, result.Displaced, 1)
}

func TestCorrelateMatchesSoleWindowedCandidate(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	job := scheduleJob(t, store, p.ID, "Vase", "vase.3mf", 400, now.Add(-30*time.Minute))
	// Outside the window, ignored by the windowed stage.
	scheduleJob(t, store, p.ID, "Benchy", "benchy.3mf", 150, now.Add(8*time.Hour))

	c := NewCorrelator(24*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "print_0123", 440, now)
	require.NoError(t, err)

	require.True(t, result.Linked())
	assert.Equal(t, job.ID, result.Job.ID)
	assert.Equal(t, "window", result.Method)
}

func TestCorrelateWindowRejectsLayerRatio(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	// In the window but the reported layer count is 2x the estimate, far
	// past the ratio limit.
	job := scheduleJob(t, store, p.ID, "Vase", "vase.3mf", 200, now.Add(-30*time.Minute))

	c := NewCorrelator(24*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "print_0123", 400, now)
	require.NoError(t, err)

	assert.False(t, result.Linked())
	require.Len(t, result.Displaced, 1)
	assert.Equal(t, job.ID, result.Displaced[0].ID)
}

func TestCorrelateSweepsStaleSchedules(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	stale := scheduleJob(t, store, p.ID, "Old Widget", "old.3mf", 100, now.Add(-3*time.Hour))
	fresh := scheduleJob(t, store, p.ID, "Fresh Widget", "fresh.3mf", 300, now)

	c := NewCorrelator(2*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "fresh.3mf", 300, now)
	require.NoError(t, err)

	// The 3h-old schedule is swept back to pending before matching.
	require.Len(t, result.Swept, 1)
	assert.Equal(t, stale.ID, result.Swept[0].ID)

	got, err := store.Jobs.GetByID(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusPending, got.Status)

	require.True(t, result.Linked())
	assert.Equal(t, fresh.ID, result.Job.ID)
}

func TestCorrelateNoCandidates(t *testing.T) {
	store := newTestStore(t)
	p := addTestPrinter(t, store)

	c := NewCorrelator(2*time.Hour, 10)
	result, err := c.Correlate(context.Background(), store.DB, p.ID, "mystery.3mf", 100, time.Now().UTC())
	require.NoError(t, err)

	assert.False(t, result.Linked())
	assert.Empty(t, result.Swept)
	assert.Empty(t, result.Displaced)
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"BabyYoda.3mf", "babyyoda"},
		{"BabyYoda.gcode.3mf", "babyyoda"},
		{"  Benchy.GCODE  ", "benchy"},
		{"part.stl", "part"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeLabel(tt.in), "input %q", tt.in)
	}
}
