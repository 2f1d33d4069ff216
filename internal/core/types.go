package core

import (
	"context"
	"time"
)

// PrinterState is the canonical state every vendor adapter normalizes into.
type PrinterState string

const (
	StateIdle     PrinterState = "idle"
	StateRunning  PrinterState = "running"
	StatePaused   PrinterState = "paused"
	StateFinished PrinterState = "finished"
	StateFailed   PrinterState = "failed"
	StateOffline  PrinterState = "offline"
	StateUnknown  PrinterState = "unknown"
)

// LoadedSlot is one filament slot as reported by the device.
type LoadedSlot struct {
	Index      int
	Color      string
	Material   string
	RemainingG float64
}

// CanonicalStatus is a single normalized snapshot of a printer, produced by
// an adapter from vendor telemetry. Vendor payloads never reach core logic.
type CanonicalStatus struct {
	State           PrinterState
	ProgressPercent float64
	CurrentLayer    int
	TotalLayers     int
	NozzleTempC     float64
	BedTempC        float64
	SourceLabel     string
	LoadedSlots     []LoadedSlot
	ErrorMessage    string
}

type EventType string

const (
	EventJobStarted   EventType = "job_started"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventJobCancelled EventType = "job_cancelled"
	EventDispatchNext EventType = "dispatch_next"
	EventOffline      EventType = "offline"
)

// LifecycleEvent is a discrete transition detected from consecutive snapshots.
type LifecycleEvent struct {
	Type      EventType
	PrinterID int64
	Status    CanonicalStatus
	At        time.Time
}

type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// Alert is the abstract event the core emits; delivery is external.
type Alert struct {
	Type      string
	Severity  AlertSeverity
	Title     string
	Message   string
	PrinterID int64
	JobID     *int64
	Metadata  map[string]any
}

// AlertSender accepts alerts for asynchronous delivery.
type AlertSender interface {
	Send(alert Alert)
}

// ArchiveSink archives a terminal run; storage format is external.
type ArchiveSink interface {
	CreateArchive(ctx context.Context, runID string, printerID int64, success bool) error
}

// RescheduleTrigger requests a scheduler pass. Fire-and-forget: failures are
// the trigger's own concern, the calling transaction has already committed.
type RescheduleTrigger interface {
	TriggerReschedule(reason string)
}
