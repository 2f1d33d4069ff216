package db

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

const (
	JobSourcePlanned = "planned"
	JobSourceAdhoc   = "adhoc"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether a run has reached a final status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

type Job struct {
	ID             int64      `json:"id"`
	ItemName       string     `json:"item_name"`
	FileName       string     `json:"file_name"`
	ModelName      string     `json:"model_name"`
	ColorsJSON     string     `json:"-"`
	EstDurationMin int        `json:"est_duration_min"`
	EstLayers      int        `json:"est_layers"`
	Priority       int        `json:"priority"`
	Status         JobStatus  `json:"status"`
	PrinterID      *int64     `json:"printer_id"`
	ScheduledStart *time.Time `json:"scheduled_start"`
	ScheduledEnd   *time.Time `json:"scheduled_end"`
	ActualStart    *time.Time `json:"actual_start"`
	ActualEnd      *time.Time `json:"actual_end"`
	DurationMin    *int       `json:"duration_min"`
	MatchScore     *float64   `json:"match_score"`
	Locked         bool       `json:"locked"`
	Hold           bool       `json:"hold"`
	Source         string     `json:"source"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Colors decodes the required color list, preserving order.
func (j *Job) Colors() []string {
	if j.ColorsJSON == "" {
		return nil
	}
	var colors []string
	if err := json.Unmarshal([]byte(j.ColorsJSON), &colors); err != nil {
		return nil
	}
	return colors
}

func (j *Job) SetColors(colors []string) {
	data, err := json.Marshal(colors)
	if err != nil {
		j.ColorsJSON = "[]"
		return
	}
	j.ColorsJSON = string(data)
}

type Printer struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Active     bool       `json:"active"`
	State      string     `json:"state"`
	SlotCount  int        `json:"slot_count"`
	APIUrl     string     `json:"api_url"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type PrinterSlot struct {
	ID         int64   `json:"id"`
	PrinterID  int64   `json:"printer_id"`
	SlotIndex  int     `json:"slot_index"`
	Color      string  `json:"color"`
	Material   string  `json:"material"`
	RemainingG float64 `json:"remaining_g"`
}

type PrintRun struct {
	ID            string     `json:"id"`
	PrinterID     int64      `json:"printer_id"`
	SourceLabel   string     `json:"source_label"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	TotalLayers   int        `json:"total_layers"`
	LinkedJobID   *int64     `json:"linked_job_id"`
	DurationMin   *int       `json:"duration_min"`
	MaterialUsedG *float64   `json:"material_used_g"`
}

type SchedulerRun struct {
	ID             int64     `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	ScheduledCount int       `json:"scheduled_count"`
	SkippedCount   int       `json:"skipped_count"`
	SetupBlocks    int       `json:"setup_blocks"`
	AvgScore       float64   `json:"avg_score"`
	Notes          string    `json:"notes"`
}

type Alert struct {
	ID           string    `json:"id"`
	AlertType    string    `json:"alert_type"`
	Severity     string    `json:"severity"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	PrinterID    int64     `json:"printer_id"`
	JobID        *int64    `json:"job_id"`
	MetadataJSON string    `json:"metadata_json"`
	CreatedAt    time.Time `json:"created_at"`
}

type ArchiveRun struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	PrinterID   int64     `json:"printer_id"`
	ArchiveFile string    `json:"archive_file"`
	ArchivedAt  time.Time `json:"archived_at"`
}

type JobFilter struct {
	PrinterID int64
	Status    string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}
