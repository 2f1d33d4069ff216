package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printfarm/internal/db"
)

var ErrRunNotFound = errors.New("print run not found")

// SpoolSnapshot maps slot index to remaining grams at run start. Held in
// memory only for the lifetime of the run; used to compute consumption.
type SpoolSnapshot map[int]float64

// Recorder turns lifecycle events into run and job records. Start and end
// recording each happen under one exclusive transaction so no partial run
// is ever visible; alerts and reschedules fire only after commit.
type Recorder struct {
	store      *db.Store
	correlator *Correlator
	alerts     AlertSender
	archive    ArchiveSink
	trigger    RescheduleTrigger

	mu        sync.Mutex
	snapshots map[string]SpoolSnapshot
}

func NewRecorder(store *db.Store, correlator *Correlator, alerts AlertSender, archive ArchiveSink, trigger RescheduleTrigger) *Recorder {
	return &Recorder{
		store:      store,
		correlator: correlator,
		alerts:     alerts,
		archive:    archive,
		trigger:    trigger,
		snapshots:  make(map[string]SpoolSnapshot),
	}
}

// HandleEvent dispatches a detected lifecycle transition.
func (r *Recorder) HandleEvent(ctx context.Context, event LifecycleEvent) {
	var err error
	switch event.Type {
	case EventJobStarted:
		_, err = r.RecordStart(ctx, event.PrinterID, event.Status)
	case EventJobCompleted:
		err = r.recordEndForPrinter(ctx, event.PrinterID, db.RunStatusCompleted, event.Status)
	case EventJobFailed:
		err = r.recordEndForPrinter(ctx, event.PrinterID, db.RunStatusFailed, event.Status)
	case EventJobCancelled:
		err = r.recordEndForPrinter(ctx, event.PrinterID, db.RunStatusCancelled, event.Status)
	}
	if err != nil {
		log.Printf("[recorder] failed to handle %s for printer %d: %v", event.Type, event.PrinterID, err)
	}
}

// RecordStart creates the PrintRun for a physical print start. Stale sweep,
// correlation, run insert, spool snapshot and the job update all commit
// together or not at all.
func (r *Recorder) RecordStart(ctx context.Context, printerID int64, status CanonicalStatus) (*db.PrintRun, error) {
	run := &db.PrintRun{
		ID:          uuid.NewString(),
		PrinterID:   printerID,
		SourceLabel: status.SourceLabel,
		Status:      db.RunStatusRunning,
		StartedAt:   time.Now().UTC(),
		TotalLayers: status.TotalLayers,
	}

	var result *CorrelationResult
	var snapshot SpoolSnapshot

	err := db.WithTx(ctx, r.store.DB, func(tx *sql.Tx) error {
		var err error
		result, err = r.correlator.Correlate(ctx, tx, printerID, status.SourceLabel, status.TotalLayers, run.StartedAt)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, db.InsertRun,
			run.ID, run.PrinterID, run.SourceLabel, run.Status, run.StartedAt, run.TotalLayers); err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		snapshot, err = r.snapshotSpools(ctx, tx, printerID, status)
		if err != nil {
			return err
		}

		if result.Linked() {
			run.LinkedJobID = &result.Job.ID
			if _, err := tx.ExecContext(ctx, db.LinkRunToJob, result.Job.ID, run.ID); err != nil {
				return fmt.Errorf("failed to link run: %w", err)
			}
			if _, err := tx.ExecContext(ctx, db.MarkJobPrinting, run.StartedAt, result.Score, result.Job.ID); err != nil {
				return fmt.Errorf("failed to mark job printing: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.snapshots[run.ID] = snapshot
	r.mu.Unlock()

	r.afterStart(printerID, result)

	if result.Linked() {
		log.Printf("[recorder] run %s on printer %d linked to job %d via %s match",
			run.ID, printerID, result.Job.ID, result.Method)
	} else {
		log.Printf("[recorder] run %s on printer %d unlinked (%d displaced)",
			run.ID, printerID, len(result.Displaced))
	}

	return run, nil
}

// afterStart surfaces the side effects deferred past commit: stale-sweep
// notices and, for an ad-hoc print, exactly one bump alert plus one
// reschedule trigger.
func (r *Recorder) afterStart(printerID int64, result *CorrelationResult) {
	if r.alerts != nil {
		for _, job := range result.Swept {
			jobID := job.ID
			r.alerts.Send(Alert{
				Type:      "stale_schedule",
				Severity:  SeverityInfo,
				Title:     "Stale schedule reset",
				Message:   fmt.Sprintf("job %q missed its slot and was returned to the queue", job.ItemName),
				PrinterID: printerID,
				JobID:     &jobID,
			})
		}
	}

	if len(result.Displaced) == 0 {
		return
	}

	if r.alerts != nil {
		names := make([]string, 0, len(result.Displaced))
		ids := make([]int64, 0, len(result.Displaced))
		for _, job := range result.Displaced {
			names = append(names, job.ItemName)
			ids = append(ids, job.ID)
		}
		r.alerts.Send(Alert{
			Type:      "schedule_bump",
			Severity:  SeverityInfo,
			Title:     "Ad-hoc print displaced scheduled jobs",
			Message:   fmt.Sprintf("%d job(s) returned to the queue", len(result.Displaced)),
			PrinterID: printerID,
			Metadata:  map[string]any{"displaced_jobs": ids, "displaced_names": names},
		})
	}
	if r.trigger != nil {
		r.trigger.TriggerReschedule("ad-hoc print bumped scheduled jobs")
	}
}

func (r *Recorder) recordEndForPrinter(ctx context.Context, printerID int64, status db.RunStatus, snapshot CanonicalStatus) error {
	run, err := r.store.Runs.GetActiveByPrinter(ctx, printerID)
	if err != nil {
		return err
	}
	if run == nil {
		// No open run: either a duplicate end signal or a print that
		// started before we were watching. Nothing to record.
		return nil
	}
	return r.RecordEnd(ctx, run.ID, status, snapshot)
}

// RecordEnd closes a run. Idempotent: a run already in a terminal status
// returns without side effects, so duplicate end signals are harmless.
func (r *Recorder) RecordEnd(ctx context.Context, runID string, status db.RunStatus, current CanonicalStatus) error {
	run, err := r.store.Runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRunNotFound
		}
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}

	endedAt := time.Now().UTC()
	durationMin := int(endedAt.Sub(run.StartedAt).Minutes())
	materialUsed := r.materialUsed(ctx, run, current)

	var linkedJobID int64
	finished := false
	err = db.WithTx(ctx, r.store.DB, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, db.FinishRun, status, endedAt, durationMin, materialUsed, runID)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			// Lost a race with another end signal; first writer wins.
			return nil
		}
		finished = true

		jobStatus := jobStatusForRun(status)
		if run.LinkedJobID != nil {
			linkedJobID = *run.LinkedJobID
			if _, err := tx.ExecContext(ctx, db.FinishJob, jobStatus, endedAt, durationMin, linkedJobID); err != nil {
				return fmt.Errorf("failed to finish job: %w", err)
			}
			return nil
		}

		// Unlinked run: create a minimal job record purely for metrics
		// continuity and link it.
		itemName := run.SourceLabel
		if itemName == "" {
			itemName = "ad-hoc print"
		}
		res, err := tx.ExecContext(ctx, db.InsertAdhocJob,
			itemName, run.SourceLabel, jobStatus, run.PrinterID,
			run.StartedAt, endedAt, durationMin)
		if err != nil {
			return fmt.Errorf("failed to create ad-hoc job: %w", err)
		}
		linkedJobID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get ad-hoc job id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, db.LinkRunToJob, linkedJobID, runID); err != nil {
			return fmt.Errorf("failed to link ad-hoc job: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !finished {
		return nil
	}

	r.mu.Lock()
	delete(r.snapshots, runID)
	r.mu.Unlock()

	r.afterEnd(run, status, current, linkedJobID, durationMin, materialUsed)
	return nil
}

func (r *Recorder) afterEnd(run *db.PrintRun, status db.RunStatus, current CanonicalStatus, jobID int64, durationMin int, materialUsed float64) {
	success := status == db.RunStatusCompleted

	if r.alerts != nil {
		alertType := "print_complete"
		severity := SeverityInfo
		title := "Print complete"
		if !success {
			alertType = "print_failed"
			severity = SeverityError
			title = "Print failed"
		}
		r.alerts.Send(Alert{
			Type:      alertType,
			Severity:  severity,
			Title:     title,
			Message:   current.ErrorMessage,
			PrinterID: run.PrinterID,
			JobID:     &jobID,
			Metadata: map[string]any{
				"run_id":          run.ID,
				"progress":        current.ProgressPercent,
				"duration_min":    durationMin,
				"material_used_g": materialUsed,
			},
		})
	}

	if r.archive != nil {
		if err := r.archive.CreateArchive(context.Background(), run.ID, run.PrinterID, success); err != nil {
			log.Printf("[recorder] failed to archive run %s: %v", run.ID, err)
		}
	}
}

// snapshotSpools captures remaining weight per slot at run start. The live
// snapshot from the adapter wins; the persisted slots are the fallback.
func (r *Recorder) snapshotSpools(ctx context.Context, q db.Queryer, printerID int64, status CanonicalStatus) (SpoolSnapshot, error) {
	snapshot := make(SpoolSnapshot)
	if len(status.LoadedSlots) > 0 {
		for _, slot := range status.LoadedSlots {
			snapshot[slot.Index] = slot.RemainingG
		}
		return snapshot, nil
	}

	slots, err := db.GetSlots(ctx, q, printerID)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		snapshot[slot.SlotIndex] = slot.RemainingG
	}
	return snapshot, nil
}

// materialUsed sums positive per-slot weight deltas between the start
// snapshot and current weights. Negative deltas mean a spool swap and are
// ignored.
func (r *Recorder) materialUsed(ctx context.Context, run *db.PrintRun, current CanonicalStatus) float64 {
	r.mu.Lock()
	start, ok := r.snapshots[run.ID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	now := make(map[int]float64)
	if len(current.LoadedSlots) > 0 {
		for _, slot := range current.LoadedSlots {
			now[slot.Index] = slot.RemainingG
		}
	} else {
		slots, err := r.store.Printers.GetSlots(ctx, run.PrinterID)
		if err != nil {
			log.Printf("[recorder] failed to read slots for printer %d: %v", run.PrinterID, err)
			return 0
		}
		for _, slot := range slots {
			now[slot.SlotIndex] = slot.RemainingG
		}
	}

	var used float64
	for index, startWeight := range start {
		endWeight, ok := now[index]
		if !ok {
			continue
		}
		if delta := startWeight - endWeight; delta > 0 {
			used += delta
		}
	}
	return used
}

func jobStatusForRun(status db.RunStatus) db.JobStatus {
	switch status {
	case db.RunStatusCompleted:
		return db.JobStatusCompleted
	case db.RunStatusFailed:
		return db.JobStatusFailed
	default:
		return db.JobStatusCancelled
	}
}
