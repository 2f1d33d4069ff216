package db

const jobColumns = `id, item_name, file_name, model_name, colors_json, est_duration_min, est_layers, priority, status, printer_id, scheduled_start, scheduled_end, actual_start, actual_end, duration_min, match_score, locked, hold, source, created_at, updated_at`

const (
	InsertJob = `
		INSERT INTO jobs (item_name, file_name, model_name, colors_json, est_duration_min, est_layers, priority, status, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `
		SELECT ` + jobColumns + ` FROM jobs WHERE id = ?
	`

	GetPendingJobs = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'pending' AND hold = 0
		ORDER BY priority ASC, created_at ASC
	`

	GetCommittedJobs = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE printer_id IS NOT NULL AND scheduled_start IS NOT NULL
		AND (status IN ('printing', 'completed') OR (status = 'scheduled' AND locked = 1))
	`

	GetCandidateJobs = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE printer_id = ? AND status IN ('scheduled', 'pending')
		ORDER BY scheduled_start IS NULL, scheduled_start ASC
		LIMIT ?
	`

	GetScheduledJobsByPrinter = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE printer_id = ? AND status = 'scheduled'
		ORDER BY scheduled_start ASC
	`

	AssignJob = `
		UPDATE jobs SET status = 'scheduled', printer_id = ?, scheduled_start = ?, scheduled_end = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`

	ResetJobToPending = `
		UPDATE jobs SET status = 'pending', printer_id = NULL, scheduled_start = NULL, scheduled_end = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'scheduled'
	`

	MarkJobPrinting = `
		UPDATE jobs SET status = 'printing', actual_start = COALESCE(actual_start, ?), match_score = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	FinishJob = `
		UPDATE jobs SET status = ?, actual_end = ?, duration_min = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	InsertAdhocJob = `
		INSERT INTO jobs (item_name, file_name, colors_json, status, printer_id, actual_start, actual_end, duration_min, source)
		VALUES (?, ?, '[]', ?, ?, ?, ?, ?, 'adhoc')
	`

	UpdateJob = `
		UPDATE jobs SET priority = ?, status = ?, locked = ?, hold = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	DeleteJob = `DELETE FROM jobs WHERE id = ?`
)

const printerColumns = `id, name, active, state, slot_count, api_url, last_seen_at, created_at, updated_at`

const (
	InsertPrinter = `
		INSERT INTO printers (name, active, state, slot_count, api_url)
		VALUES (?, ?, ?, ?, ?)
	`

	GetPrinterByID = `
		SELECT ` + printerColumns + ` FROM printers WHERE id = ?
	`

	ListPrinters = `
		SELECT ` + printerColumns + ` FROM printers ORDER BY id ASC
	`

	ListActivePrinters = `
		SELECT ` + printerColumns + ` FROM printers WHERE active = 1 ORDER BY id ASC
	`

	UpdatePrinterState = `
		UPDATE printers SET state = ?, last_seen_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	SetPrinterActive = `
		UPDATE printers SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	DeletePrinter = `DELETE FROM printers WHERE id = ?`
)

const (
	GetSlotsByPrinter = `
		SELECT id, printer_id, slot_index, color, material, remaining_g
		FROM printer_slots WHERE printer_id = ? ORDER BY slot_index ASC
	`

	UpsertSlot = `
		INSERT INTO printer_slots (printer_id, slot_index, color, material, remaining_g)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(printer_id, slot_index) DO UPDATE SET color = excluded.color, material = excluded.material, remaining_g = excluded.remaining_g
	`

	DeleteSlotsByPrinter = `DELETE FROM printer_slots WHERE printer_id = ?`
)

const runColumns = `id, printer_id, source_label, status, started_at, ended_at, total_layers, linked_job_id, duration_min, material_used_g`

const (
	InsertRun = `
		INSERT INTO print_runs (id, printer_id, source_label, status, started_at, total_layers)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetRunByID = `
		SELECT ` + runColumns + ` FROM print_runs WHERE id = ?
	`

	GetActiveRunByPrinter = `
		SELECT ` + runColumns + ` FROM print_runs WHERE printer_id = ? AND status = 'running'
		ORDER BY started_at DESC LIMIT 1
	`

	ListRunsByPrinter = `
		SELECT ` + runColumns + ` FROM print_runs WHERE printer_id = ?
		ORDER BY started_at DESC LIMIT ? OFFSET ?
	`

	LinkRunToJob = `
		UPDATE print_runs SET linked_job_id = ? WHERE id = ? AND linked_job_id IS NULL
	`

	FinishRun = `
		UPDATE print_runs SET status = ?, ended_at = ?, duration_min = ?, material_used_g = ?
		WHERE id = ? AND status = 'running'
	`

	GetTerminalRunsBefore = `
		SELECT ` + runColumns + ` FROM print_runs
		WHERE status IN ('completed', 'failed', 'cancelled') AND ended_at IS NOT NULL AND ended_at < ?
		ORDER BY ended_at ASC
	`

	DeleteRun = `DELETE FROM print_runs WHERE id = ?`
)

const (
	InsertSchedulerRun = `
		INSERT INTO scheduler_runs (started_at, finished_at, scheduled_count, skipped_count, setup_blocks, avg_score, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ListSchedulerRuns = `
		SELECT id, started_at, finished_at, scheduled_count, skipped_count, setup_blocks, avg_score, notes
		FROM scheduler_runs ORDER BY started_at DESC LIMIT ? OFFSET ?
	`
)

const (
	InsertAlert = `
		INSERT INTO alerts (id, alert_type, severity, title, message, printer_id, job_id, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListAlerts = `
		SELECT id, alert_type, severity, title, message, printer_id, job_id, metadata_json, created_at
		FROM alerts ORDER BY created_at DESC LIMIT ? OFFSET ?
	`

	ListAlertsByType = `
		SELECT id, alert_type, severity, title, message, printer_id, job_id, metadata_json, created_at
		FROM alerts WHERE alert_type = ? ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
)

const (
	InsertArchiveRun = `
		INSERT INTO archive_runs (run_id, printer_id, archive_file)
		VALUES (?, ?, ?)
	`

	GetArchiveRunByRunID = `
		SELECT id, run_id, printer_id, archive_file, archived_at
		FROM archive_runs WHERE run_id = ?
	`

	ListArchiveRuns = `
		SELECT id, run_id, printer_id, archive_file, archived_at
		FROM archive_runs ORDER BY archived_at DESC LIMIT ? OFFSET ?
	`
)
