package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store groups the per-table operations over one database handle.
// Injected rather than reached through a package singleton so the
// reconciler and scheduler can share transactions and tests can use
// isolated databases.
type Store struct {
	DB            *sql.DB
	Jobs          *JobOperations
	Printers      *PrinterOperations
	Runs          *RunOperations
	SchedulerRuns *SchedulerRunOperations
	Alerts        *AlertOperations
	Archives      *ArchiveOperations
}

func NewStore(conn *sql.DB) *Store {
	return &Store{
		DB:            conn,
		Jobs:          &JobOperations{db: conn},
		Printers:      &PrinterOperations{db: conn},
		Runs:          &RunOperations{db: conn},
		SchedulerRuns: &SchedulerRunOperations{db: conn},
		Alerts:        &AlertOperations{db: conn},
		Archives:      &ArchiveOperations{db: conn},
	}
}

// Queryer is satisfied by both *sql.DB and *sql.Tx so scan helpers and
// candidate queries can run inside or outside a transaction.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type JobOperations struct {
	db *sql.DB
}

func (o *JobOperations) Create(ctx context.Context, j *Job) error {
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.ColorsJSON == "" {
		j.ColorsJSON = "[]"
	}
	result, err := o.db.ExecContext(ctx, InsertJob,
		j.ItemName, j.FileName, j.ModelName, j.ColorsJSON,
		j.EstDurationMin, j.EstLayers, j.Priority, j.Status, j.Source)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get job id: %w", err)
	}
	j.ID = id
	return nil
}

func (o *JobOperations) GetByID(ctx context.Context, id int64) (*Job, error) {
	return GetJob(ctx, o.db, id)
}

func (o *JobOperations) GetPending(ctx context.Context) ([]*Job, error) {
	rows, err := o.db.QueryContext(ctx, GetPendingJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()
	return ScanJobs(rows)
}

func (o *JobOperations) GetCommitted(ctx context.Context) ([]*Job, error) {
	rows, err := o.db.QueryContext(ctx, GetCommittedJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to get committed jobs: %w", err)
	}
	defer rows.Close()
	return ScanJobs(rows)
}

// Assign moves a pending job to scheduled. Returns false when the job was
// no longer pending, which means a concurrent correlation claimed it first.
func (o *JobOperations) Assign(ctx context.Context, id, printerID int64, start, end time.Time) (bool, error) {
	result, err := o.db.ExecContext(ctx, AssignJob, printerID, start, end, id)
	if err != nil {
		return false, fmt.Errorf("failed to assign job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (o *JobOperations) List(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var conditions []string
	var args []any

	if filter.PrinterID > 0 {
		conditions = append(conditions, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.FromDate != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.ToDate)
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"

	limit := 100
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	args = append(args, limit, filter.Offset)

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return ScanJobs(rows)
}

// Update writes queue attributes. Scheduling columns are owned by the
// scheduler and recorder paths and are not touched here.
func (o *JobOperations) Update(ctx context.Context, j *Job) error {
	_, err := o.db.ExecContext(ctx, UpdateJob, j.Priority, j.Status, j.Locked, j.Hold, j.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (o *JobOperations) Delete(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx, DeleteJob, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// GetJob loads one job through db or tx.
func GetJob(ctx context.Context, q Queryer, id int64) (*Job, error) {
	row := q.QueryRowContext(ctx, GetJobByID, id)
	j, err := scanJobRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

type PrinterOperations struct {
	db *sql.DB
}

func (o *PrinterOperations) Create(ctx context.Context, p *Printer) error {
	if p.State == "" {
		p.State = "unknown"
	}
	if p.SlotCount == 0 {
		p.SlotCount = 4
	}
	result, err := o.db.ExecContext(ctx, InsertPrinter, p.Name, p.Active, p.State, p.SlotCount, p.APIUrl)
	if err != nil {
		return fmt.Errorf("failed to create printer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get printer id: %w", err)
	}
	p.ID = id
	return nil
}

func (o *PrinterOperations) GetByID(ctx context.Context, id int64) (*Printer, error) {
	p := &Printer{}
	var lastSeen sql.NullTime
	var active int
	err := o.db.QueryRowContext(ctx, GetPrinterByID, id).Scan(
		&p.ID, &p.Name, &active, &p.State, &p.SlotCount, &p.APIUrl,
		&lastSeen, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer: %w", err)
	}
	p.Active = active == 1
	if lastSeen.Valid {
		p.LastSeenAt = &lastSeen.Time
	}
	return p, nil
}

func (o *PrinterOperations) List(ctx context.Context) ([]*Printer, error) {
	return o.list(ctx, ListPrinters)
}

func (o *PrinterOperations) ListActive(ctx context.Context) ([]*Printer, error) {
	return o.list(ctx, ListActivePrinters)
}

func (o *PrinterOperations) list(ctx context.Context, query string) ([]*Printer, error) {
	rows, err := o.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	var printers []*Printer
	for rows.Next() {
		p := &Printer{}
		var lastSeen sql.NullTime
		var active int
		if err := rows.Scan(
			&p.ID, &p.Name, &active, &p.State, &p.SlotCount, &p.APIUrl,
			&lastSeen, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		p.Active = active == 1
		if lastSeen.Valid {
			p.LastSeenAt = &lastSeen.Time
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (o *PrinterOperations) UpdateState(ctx context.Context, id int64, state string) error {
	_, err := o.db.ExecContext(ctx, UpdatePrinterState, state, id)
	if err != nil {
		return fmt.Errorf("failed to update printer state: %w", err)
	}
	return nil
}

func (o *PrinterOperations) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := o.db.ExecContext(ctx, SetPrinterActive, active, id)
	if err != nil {
		return fmt.Errorf("failed to set printer active: %w", err)
	}
	return nil
}

func (o *PrinterOperations) GetSlots(ctx context.Context, printerID int64) ([]*PrinterSlot, error) {
	return GetSlots(ctx, o.db, printerID)
}

func (o *PrinterOperations) UpsertSlot(ctx context.Context, s *PrinterSlot) error {
	_, err := o.db.ExecContext(ctx, UpsertSlot, s.PrinterID, s.SlotIndex, s.Color, s.Material, s.RemainingG)
	if err != nil {
		return fmt.Errorf("failed to upsert slot: %w", err)
	}
	return nil
}

// LoadedColors returns the distinct colors present in a printer's slots.
func (o *PrinterOperations) LoadedColors(ctx context.Context, printerID int64) ([]string, error) {
	slots, err := o.GetSlots(ctx, printerID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var colors []string
	for _, s := range slots {
		if s.Color == "" || seen[s.Color] {
			continue
		}
		seen[s.Color] = true
		colors = append(colors, s.Color)
	}
	return colors, nil
}

func GetSlots(ctx context.Context, q Queryer, printerID int64) ([]*PrinterSlot, error) {
	rows, err := q.QueryContext(ctx, GetSlotsByPrinter, printerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get printer slots: %w", err)
	}
	defer rows.Close()

	var slots []*PrinterSlot
	for rows.Next() {
		s := &PrinterSlot{}
		if err := rows.Scan(&s.ID, &s.PrinterID, &s.SlotIndex, &s.Color, &s.Material, &s.RemainingG); err != nil {
			return nil, fmt.Errorf("failed to scan printer slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

type RunOperations struct {
	db *sql.DB
}

func (o *RunOperations) GetByID(ctx context.Context, id string) (*PrintRun, error) {
	return GetRun(ctx, o.db, id)
}

func (o *RunOperations) GetActiveByPrinter(ctx context.Context, printerID int64) (*PrintRun, error) {
	row := o.db.QueryRowContext(ctx, GetActiveRunByPrinter, printerID)
	r, err := scanRunRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return r, nil
}

func (o *RunOperations) ListByPrinter(ctx context.Context, printerID int64, limit, offset int) ([]*PrintRun, error) {
	rows, err := o.db.QueryContext(ctx, ListRunsByPrinter, printerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (o *RunOperations) GetTerminalBefore(ctx context.Context, cutoff time.Time) ([]*PrintRun, error) {
	rows, err := o.db.QueryContext(ctx, GetTerminalRunsBefore, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get terminal runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (o *RunOperations) Delete(ctx context.Context, id string) error {
	_, err := o.db.ExecContext(ctx, DeleteRun, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

func GetRun(ctx context.Context, q Queryer, id string) (*PrintRun, error) {
	row := q.QueryRowContext(ctx, GetRunByID, id)
	r, err := scanRunRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return r, nil
}

type SchedulerRunOperations struct {
	db *sql.DB
}

func (o *SchedulerRunOperations) Create(ctx context.Context, r *SchedulerRun) error {
	result, err := o.db.ExecContext(ctx, InsertSchedulerRun,
		r.StartedAt, r.FinishedAt, r.ScheduledCount, r.SkippedCount,
		r.SetupBlocks, r.AvgScore, r.Notes)
	if err != nil {
		return fmt.Errorf("failed to create scheduler run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get scheduler run id: %w", err)
	}
	r.ID = id
	return nil
}

func (o *SchedulerRunOperations) List(ctx context.Context, limit, offset int) ([]*SchedulerRun, error) {
	rows, err := o.db.QueryContext(ctx, ListSchedulerRuns, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduler runs: %w", err)
	}
	defer rows.Close()

	var runs []*SchedulerRun
	for rows.Next() {
		r := &SchedulerRun{}
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.ScheduledCount,
			&r.SkippedCount, &r.SetupBlocks, &r.AvgScore, &r.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type AlertOperations struct {
	db *sql.DB
}

func (o *AlertOperations) Create(ctx context.Context, a *Alert) error {
	if a.MetadataJSON == "" {
		a.MetadataJSON = "{}"
	}
	_, err := o.db.ExecContext(ctx, InsertAlert,
		a.ID, a.AlertType, a.Severity, a.Title, a.Message,
		a.PrinterID, a.JobID, a.MetadataJSON)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (o *AlertOperations) List(ctx context.Context, alertType string, limit, offset int) ([]*Alert, error) {
	var rows *sql.Rows
	var err error
	if alertType != "" {
		rows, err = o.db.QueryContext(ctx, ListAlertsByType, alertType, limit, offset)
	} else {
		rows, err = o.db.QueryContext(ctx, ListAlerts, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a := &Alert{}
		var jobID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.Title, &a.Message,
			&a.PrinterID, &jobID, &a.MetadataJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if jobID.Valid {
			a.JobID = &jobID.Int64
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

type ArchiveOperations struct {
	db *sql.DB
}

func (o *ArchiveOperations) Create(ctx context.Context, a *ArchiveRun) error {
	result, err := o.db.ExecContext(ctx, InsertArchiveRun, a.RunID, a.PrinterID, a.ArchiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get archive record id: %w", err)
	}
	a.ID = id
	return nil
}

func (o *ArchiveOperations) GetByRunID(ctx context.Context, runID string) (*ArchiveRun, error) {
	a := &ArchiveRun{}
	err := o.db.QueryRowContext(ctx, GetArchiveRunByRunID, runID).Scan(
		&a.ID, &a.RunID, &a.PrinterID, &a.ArchiveFile, &a.ArchivedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get archive record: %w", err)
	}
	return a, nil
}

func (o *ArchiveOperations) List(ctx context.Context, limit, offset int) ([]*ArchiveRun, error) {
	rows, err := o.db.QueryContext(ctx, ListArchiveRuns, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list archive records: %w", err)
	}
	defer rows.Close()

	var records []*ArchiveRun
	for rows.Next() {
		a := &ArchiveRun{}
		if err := rows.Scan(&a.ID, &a.RunID, &a.PrinterID, &a.ArchiveFile, &a.ArchivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archive record: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
