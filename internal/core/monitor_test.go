package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(m *Monitor, id int64, state PrinterState) *LifecycleEvent {
	return m.Observe(id, CanonicalStatus{State: state})
}

func TestMonitorTransitions(t *testing.T) {
	tests := []struct {
		name string
		from PrinterState
		to   PrinterState
		want EventType
	}{
		{"idle to running starts a job", StateIdle, StateRunning, EventJobStarted},
		{"offline to running starts a job", StateOffline, StateRunning, EventJobStarted},
		{"idle to paused starts a job", StateIdle, StatePaused, EventJobStarted},
		{"running to finished completes", StateRunning, StateFinished, EventJobCompleted},
		{"paused to finished completes", StatePaused, StateFinished, EventJobCompleted},
		{"running to failed fails", StateRunning, StateFailed, EventJobFailed},
		{"running to idle cancels", StateRunning, StateIdle, EventJobCancelled},
		{"finished to idle dispatches next", StateFinished, StateIdle, EventDispatchNext},
		{"failed to idle dispatches next", StateFailed, StateIdle, EventDispatchNext},
		{"finished to running starts next job", StateFinished, StateRunning, EventJobStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			observe(m, 1, tt.from)
			event := observe(m, 1, tt.to)
			require.NotNil(t, event)
			assert.Equal(t, tt.want, event.Type)
			assert.Equal(t, int64(1), event.PrinterID)
			assert.Equal(t, tt.to, event.Status.State)
		})
	}
}

func TestMonitorSameStateIsSilent(t *testing.T) {
	m := NewMonitor()
	observe(m, 1, StateRunning)
	assert.Nil(t, observe(m, 1, StateRunning))
	assert.Equal(t, StateRunning, m.LastState(1))
}

func TestMonitorFirstSnapshotRunningCountsAsStart(t *testing.T) {
	// A printer already mid-print when we first poll it.
	m := NewMonitor()
	event := observe(m, 1, StateRunning)
	require.NotNil(t, event)
	assert.Equal(t, EventJobStarted, event.Type)
}

func TestMonitorPauseResumeProducesNothing(t *testing.T) {
	m := NewMonitor()
	observe(m, 1, StateIdle)
	require.NotNil(t, observe(m, 1, StateRunning))
	assert.Nil(t, observe(m, 1, StatePaused))
	assert.Nil(t, observe(m, 1, StateRunning))
}

func TestMonitorTracksPrintersIndependently(t *testing.T) {
	m := NewMonitor()
	observe(m, 1, StateRunning)
	observe(m, 2, StateIdle)

	event := observe(m, 2, StateRunning)
	require.NotNil(t, event)
	assert.Equal(t, int64(2), event.PrinterID)

	assert.Nil(t, observe(m, 1, StateRunning))
}

func TestMonitorMarkOffline(t *testing.T) {
	m := NewMonitor()
	observe(m, 1, StateIdle)

	event := m.MarkOffline(1)
	require.NotNil(t, event)
	assert.Equal(t, EventOffline, event.Type)
	assert.Equal(t, StateOffline, m.LastState(1))

	assert.Nil(t, m.MarkOffline(1))
}

func TestMonitorForget(t *testing.T) {
	m := NewMonitor()
	observe(m, 1, StateRunning)
	m.Forget(1)
	assert.Equal(t, StateUnknown, m.LastState(1))

	// Re-registration starts from a clean slate.
	event := observe(m, 1, StateRunning)
	require.NotNil(t, event)
	assert.Equal(t, EventJobStarted, event.Type)
}
