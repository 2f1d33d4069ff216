package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printfarm/internal/db"
)

type capturedAlerts struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *capturedAlerts) Send(alert Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
}

func (c *capturedAlerts) byType(alertType string) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Alert
	for _, a := range c.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

type capturedTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (c *capturedTrigger) TriggerReschedule(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons = append(c.reasons, reason)
}

func (c *capturedTrigger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reasons)
}

func newTestRecorder(t *testing.T) (*Recorder, *db.Store, *capturedAlerts, *capturedTrigger) {
	t.Helper()
	store := newTestStore(t)
	alerts := &capturedAlerts{}
	trigger := &capturedTrigger{}
	correlator := NewCorrelator(2*time.Hour, 10)
	recorder := NewRecorder(store, correlator, alerts, nil, trigger)
	return recorder, store, alerts, trigger
}

func TestRecordStartLinksScheduledJob(t *testing.T) {
	recorder, store, _, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	job := scheduleJob(t, store, p.ID, "Baby Yoda", "BabyYoda.gcode.3mf", 300, time.Now().UTC())

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "BabyYoda.3mf",
		TotalLayers: 300,
	})
	require.NoError(t, err)
	require.NotNil(t, run.LinkedJobID)
	assert.Equal(t, job.ID, *run.LinkedJobID)

	got, err := store.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusPrinting, got.Status)
	require.NotNil(t, got.ActualStart)
	require.NotNil(t, got.MatchScore)
	assert.Equal(t, scoreNameMatch, *got.MatchScore)

	active, err := store.Runs.GetActiveByPrinter(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)
}

func TestRecordStartAdhocBumpsOnceAndTriggersOnce(t *testing.T) {
	recorder, store, alerts, trigger := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	j1 := scheduleJob(t, store, p.ID, "Widget A", "widget-a.3mf", 100, now.Add(24*time.Hour))
	j2 := scheduleJob(t, store, p.ID, "Widget B", "widget-b.3mf", 200, now.Add(25*time.Hour))

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "surprise.3mf",
		TotalLayers: 999,
	})
	require.NoError(t, err)
	assert.Nil(t, run.LinkedJobID)

	// Both schedules bumped back to pending.
	for _, id := range []int64{j1.ID, j2.ID} {
		got, err := store.Jobs.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, db.JobStatusPending, got.Status)
	}

	// One bump alert covering both jobs, and one reschedule request; not
	// one per displaced job.
	bumps := alerts.byType("schedule_bump")
	require.Len(t, bumps, 1)
	assert.Equal(t, 1, trigger.count())
}

func TestRecordStartSweepAlertsPerStaleJob(t *testing.T) {
	recorder, store, alerts, trigger := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	now := time.Now().UTC()

	scheduleJob(t, store, p.ID, "Stale A", "stale-a.3mf", 100, now.Add(-3*time.Hour))
	fresh := scheduleJob(t, store, p.ID, "Fresh", "fresh.3mf", 300, now)

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "fresh.3mf",
	})
	require.NoError(t, err)
	require.NotNil(t, run.LinkedJobID)
	assert.Equal(t, fresh.ID, *run.LinkedJobID)

	assert.Len(t, alerts.byType("stale_schedule"), 1)
	assert.Empty(t, alerts.byType("schedule_bump"))
	assert.Equal(t, 0, trigger.count())
}

func TestRecordEndFinishesLinkedJob(t *testing.T) {
	recorder, store, alerts, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	job := scheduleJob(t, store, p.ID, "Benchy", "benchy.3mf", 150, time.Now().UTC())

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "benchy.3mf",
	})
	require.NoError(t, err)
	require.NotNil(t, run.LinkedJobID)

	require.NoError(t, recorder.RecordEnd(ctx, run.ID, db.RunStatusCompleted, CanonicalStatus{
		State:           StateFinished,
		ProgressPercent: 100,
	}))

	gotRun, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, gotRun.Status)
	require.NotNil(t, gotRun.EndedAt)

	gotJob, err := store.Jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.JobStatusCompleted, gotJob.Status)
	require.NotNil(t, gotJob.ActualEnd)

	assert.Len(t, alerts.byType("print_complete"), 1)
}

func TestRecordEndIsIdempotent(t *testing.T) {
	recorder, store, alerts, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	scheduleJob(t, store, p.ID, "Benchy", "benchy.3mf", 150, time.Now().UTC())

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "benchy.3mf",
	})
	require.NoError(t, err)

	require.NoError(t, recorder.RecordEnd(ctx, run.ID, db.RunStatusCompleted, CanonicalStatus{State: StateFinished}))
	first, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)

	// A duplicate end signal, even with a different status, changes nothing.
	require.NoError(t, recorder.RecordEnd(ctx, run.ID, db.RunStatusFailed, CanonicalStatus{State: StateFailed}))

	second, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.EndedAt.Equal(*second.EndedAt))
	assert.Len(t, alerts.byType("print_complete"), 1)
	assert.Empty(t, alerts.byType("print_failed"))
}

func TestRecordEndConcurrentSignalsAlertOnce(t *testing.T) {
	recorder, store, alerts, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)
	scheduleJob(t, store, p.ID, "Benchy", "benchy.3mf", 150, time.Now().UTC())

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "benchy.3mf",
	})
	require.NoError(t, err)

	// Poll and push can both report the end of the same run. Whichever
	// writer lands first owns the side effects.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := recorder.RecordEnd(ctx, run.ID, db.RunStatusCompleted, CanonicalStatus{State: StateFinished})
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	gotRun, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusCompleted, gotRun.Status)
	assert.Len(t, alerts.byType("print_complete"), 1)
	assert.Empty(t, alerts.byType("print_failed"))
}

func TestRecordEndUnknownRun(t *testing.T) {
	recorder, _, _, _ := newTestRecorder(t)
	err := recorder.RecordEnd(context.Background(), "no-such-run", db.RunStatusCompleted, CanonicalStatus{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecordEndCreatesAdhocJobForUnlinkedRun(t *testing.T) {
	recorder, store, _, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)

	// No schedules at all: the run starts unlinked.
	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "mystery.3mf",
	})
	require.NoError(t, err)
	assert.Nil(t, run.LinkedJobID)

	require.NoError(t, recorder.RecordEnd(ctx, run.ID, db.RunStatusCompleted, CanonicalStatus{State: StateFinished}))

	gotRun, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, gotRun.LinkedJobID)

	adhoc, err := store.Jobs.GetByID(ctx, *gotRun.LinkedJobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobSourceAdhoc, adhoc.Source)
	assert.Equal(t, "mystery.3mf", adhoc.ItemName)
	assert.Equal(t, db.JobStatusCompleted, adhoc.Status)
}

func TestMaterialUsedIgnoresSpoolSwaps(t *testing.T) {
	recorder, store, _, _ := newTestRecorder(t)
	ctx := context.Background()
	p := addTestPrinter(t, store)

	run, err := recorder.RecordStart(ctx, p.ID, CanonicalStatus{
		State:       StateRunning,
		SourceLabel: "widget.3mf",
		LoadedSlots: []LoadedSlot{
			{Index: 0, Color: "red", RemainingG: 500},
			{Index: 1, Color: "blue", RemainingG: 100},
		},
	})
	require.NoError(t, err)

	// Slot 0 consumed 80g; slot 1 went up, which means a fresh spool was
	// loaded mid-print and must not count as negative usage.
	require.NoError(t, recorder.RecordEnd(ctx, run.ID, db.RunStatusCompleted, CanonicalStatus{
		State: StateFinished,
		LoadedSlots: []LoadedSlot{
			{Index: 0, Color: "red", RemainingG: 420},
			{Index: 1, Color: "blue", RemainingG: 900},
		},
	}))

	gotRun, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, gotRun.MaterialUsedG)
	assert.InDelta(t, 80.0, *gotRun.MaterialUsedG, 1e-9)
}
