package db

func allMigrations() []Migration {
	return []Migration{
		{
			Version: "001_init",
			SQL: `
				CREATE TABLE printers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					active INTEGER NOT NULL DEFAULT 1,
					state TEXT NOT NULL DEFAULT 'unknown',
					slot_count INTEGER NOT NULL DEFAULT 4,
					last_seen_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE printer_slots (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					printer_id INTEGER NOT NULL REFERENCES printers(id) ON DELETE CASCADE,
					slot_index INTEGER NOT NULL,
					color TEXT NOT NULL DEFAULT '',
					material TEXT NOT NULL DEFAULT '',
					remaining_g REAL NOT NULL DEFAULT 0,
					UNIQUE(printer_id, slot_index)
				);

				CREATE TABLE jobs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					item_name TEXT NOT NULL,
					file_name TEXT NOT NULL DEFAULT '',
					model_name TEXT NOT NULL DEFAULT '',
					colors_json TEXT NOT NULL DEFAULT '[]',
					est_duration_min INTEGER NOT NULL DEFAULT 0,
					est_layers INTEGER NOT NULL DEFAULT 0,
					priority INTEGER NOT NULL DEFAULT 5,
					status TEXT NOT NULL DEFAULT 'pending',
					printer_id INTEGER REFERENCES printers(id),
					scheduled_start DATETIME,
					scheduled_end DATETIME,
					actual_start DATETIME,
					actual_end DATETIME,
					duration_min INTEGER,
					match_score REAL,
					locked INTEGER NOT NULL DEFAULT 0,
					hold INTEGER NOT NULL DEFAULT 0,
					source TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX idx_jobs_status ON jobs(status);
				CREATE INDEX idx_jobs_printer ON jobs(printer_id, status);

				CREATE TABLE print_runs (
					id TEXT PRIMARY KEY,
					printer_id INTEGER NOT NULL REFERENCES printers(id),
					source_label TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL DEFAULT 'running',
					started_at DATETIME NOT NULL,
					ended_at DATETIME,
					total_layers INTEGER NOT NULL DEFAULT 0,
					linked_job_id INTEGER REFERENCES jobs(id),
					duration_min INTEGER,
					material_used_g REAL
				);

				CREATE INDEX idx_runs_printer ON print_runs(printer_id, status);

				CREATE TABLE scheduler_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					started_at DATETIME NOT NULL,
					finished_at DATETIME NOT NULL,
					scheduled_count INTEGER NOT NULL DEFAULT 0,
					skipped_count INTEGER NOT NULL DEFAULT 0,
					setup_blocks INTEGER NOT NULL DEFAULT 0,
					avg_score REAL NOT NULL DEFAULT 0,
					notes TEXT NOT NULL DEFAULT ''
				);

				CREATE TABLE alerts (
					id TEXT PRIMARY KEY,
					alert_type TEXT NOT NULL,
					severity TEXT NOT NULL DEFAULT 'info',
					title TEXT NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					printer_id INTEGER NOT NULL DEFAULT 0,
					job_id INTEGER,
					metadata_json TEXT NOT NULL DEFAULT '{}',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX idx_alerts_type ON alerts(alert_type);

				CREATE TABLE archive_runs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					run_id TEXT NOT NULL,
					printer_id INTEGER NOT NULL,
					archive_file TEXT NOT NULL,
					archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version: "002_printer_api_url",
			SQL: `
				ALTER TABLE printers ADD COLUMN api_url TEXT NOT NULL DEFAULT '';
			`,
		},
	}
}
