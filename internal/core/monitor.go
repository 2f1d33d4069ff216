package core

import (
	"sync"
	"time"
)

// Monitor keeps the last-known canonical state per printer and turns
// consecutive snapshots into discrete lifecycle events. A snapshot whose
// state equals the previous one produces no event.
type Monitor struct {
	mu   sync.Mutex
	last map[int64]PrinterState
}

func NewMonitor() *Monitor {
	return &Monitor{
		last: make(map[int64]PrinterState),
	}
}

// Observe records a snapshot for a printer and returns the lifecycle event
// it implies, or nil when nothing changed.
func (m *Monitor) Observe(printerID int64, status CanonicalStatus) *LifecycleEvent {
	m.mu.Lock()
	prev, seen := m.last[printerID]
	m.last[printerID] = status.State
	m.mu.Unlock()

	if !seen {
		prev = StateUnknown
	}
	if prev == status.State {
		return nil
	}

	eventType, ok := transition(prev, status.State)
	if !ok {
		return nil
	}

	return &LifecycleEvent{
		Type:      eventType,
		PrinterID: printerID,
		Status:    status,
		At:        time.Now(),
	}
}

// LastState returns the last observed state for a printer.
func (m *Monitor) LastState(printerID int64) PrinterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.last[printerID]; ok {
		return s
	}
	return StateUnknown
}

// MarkOffline forces a printer's tracked state to offline, returning an
// offline event unless it already was.
func (m *Monitor) MarkOffline(printerID int64) *LifecycleEvent {
	m.mu.Lock()
	prev := m.last[printerID]
	m.last[printerID] = StateOffline
	m.mu.Unlock()

	if prev == StateOffline {
		return nil
	}
	return &LifecycleEvent{
		Type:      EventOffline,
		PrinterID: printerID,
		Status:    CanonicalStatus{State: StateOffline},
		At:        time.Now(),
	}
}

// Forget drops tracked state for a deregistered printer.
func (m *Monitor) Forget(printerID int64) {
	m.mu.Lock()
	delete(m.last, printerID)
	m.mu.Unlock()
}

func transition(from, to PrinterState) (EventType, bool) {
	switch to {
	case StateRunning, StatePaused:
		// A device may report paused before running was ever seen; both
		// count as the start of a physical print.
		switch from {
		case StateIdle, StateFinished, StateFailed, StateUnknown, StateOffline:
			return EventJobStarted, true
		}
	case StateFinished:
		switch from {
		case StateRunning, StatePaused:
			return EventJobCompleted, true
		}
	case StateFailed:
		switch from {
		case StateRunning, StatePaused:
			return EventJobFailed, true
		}
	case StateIdle:
		switch from {
		case StateRunning, StatePaused:
			// Went idle without a finished/failed report first.
			return EventJobCancelled, true
		case StateFinished, StateFailed:
			return EventDispatchNext, true
		}
	}
	return "", false
}
