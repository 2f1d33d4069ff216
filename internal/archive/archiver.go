package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/db"
)

// Archiver copies terminal print runs into monthly sqlite archive files.
// Two paths feed it: CreateArchive archives a single run right after it
// ends, and the daily retention sweep moves anything older than the
// retention window out of the main database.
type Archiver struct {
	store         *db.Store
	archivePath   string
	retentionDays int
	stopCh        chan struct{}
	mu            sync.Mutex

	stopOnce sync.Once
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	DateRange string    `json:"date_range"`
}

func NewArchiver(store *db.Store, cfg config.ArchiveConfig) (*Archiver, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/archives"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		store:         store,
		archivePath:   cfg.Path,
		retentionDays: cfg.RetentionDays,
		stopCh:        make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	go a.runDailySweep()
}

func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
	})
}

func (a *Archiver) runDailySweep() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := a.RunSweep(context.Background()); err != nil {
				log.Printf("[archive] retention sweep failed: %v", err)
			}
		}
	}
}

// CreateArchive copies one terminal run into the monthly archive file and
// records it. Implements core.ArchiveSink. The run stays in the main
// database until the retention sweep removes it.
func (a *Archiver) CreateArchive(ctx context.Context, runID string, printerID int64, success bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	run, err := a.store.Runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run for archive: %w", err)
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("run %s is not terminal", runID)
	}

	// Same run archived twice is a no-op.
	if existing, err := a.store.Archives.GetByRunID(ctx, runID); err == nil && existing != nil {
		return nil
	} else if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check archive record: %w", err)
	}

	filename, err := a.copyRuns(ctx, []*db.PrintRun{run}, run.StartedAt)
	if err != nil {
		return err
	}

	record := &db.ArchiveRun{
		RunID:       runID,
		PrinterID:   printerID,
		ArchiveFile: filename,
	}
	if err := a.store.Archives.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record archive: %w", err)
	}

	log.Printf("[archive] run %s archived to %s (success=%v)", runID, filename, success)
	return nil
}

// RunSweep moves terminal runs older than the retention window into
// monthly archive files and deletes them from the main database.
func (a *Archiver) RunSweep(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	runs, err := a.store.Runs.GetTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to get runs for archival: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	// Group by start month so each run lands in its own monthly file.
	byMonth := make(map[string][]*db.PrintRun)
	for _, run := range runs {
		byMonth[run.StartedAt.Format("2006_01")] = append(byMonth[run.StartedAt.Format("2006_01")], run)
	}

	archived := 0
	for _, monthRuns := range byMonth {
		filename, err := a.copyRuns(ctx, monthRuns, monthRuns[0].StartedAt)
		if err != nil {
			return err
		}

		for _, run := range monthRuns {
			if existing, err := a.store.Archives.GetByRunID(ctx, run.ID); err == sql.ErrNoRows || existing == nil {
				record := &db.ArchiveRun{
					RunID:       run.ID,
					PrinterID:   run.PrinterID,
					ArchiveFile: filename,
				}
				if err := a.store.Archives.Create(ctx, record); err != nil {
					return fmt.Errorf("failed to record archive: %w", err)
				}
			} else if err != nil {
				return fmt.Errorf("failed to check archive record: %w", err)
			}

			if err := a.store.Runs.Delete(ctx, run.ID); err != nil {
				return fmt.Errorf("failed to delete archived run: %w", err)
			}
			archived++
		}
	}

	log.Printf("[archive] retention sweep archived %d run(s) older than %s", archived, cutoff.Format("2006-01-02"))
	return nil
}

// copyRuns writes runs into the monthly archive database named after the
// given timestamp, returning the archive filename.
func (a *Archiver) copyRuns(ctx context.Context, runs []*db.PrintRun, month time.Time) (string, error) {
	filename := fmt.Sprintf("runs_%s.db", month.Format("2006_01"))
	archiveDB, err := a.openOrCreateArchiveDB(filepath.Join(a.archivePath, filename))
	if err != nil {
		return "", fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin archive transaction: %w", err)
	}

	for _, run := range runs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO print_runs (id, printer_id, source_label, status, started_at, ended_at, total_layers, linked_job_id, duration_min, material_used_g)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.PrinterID, run.SourceLabel, run.Status, run.StartedAt, run.EndedAt,
			run.TotalLayers, run.LinkedJobID, run.DurationMin, run.MaterialUsedG); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("failed to insert run to archive: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at, source_database)
		VALUES (1, ?, 'main')
	`, time.Now().UTC()); err != nil {
		tx.Rollback()
		return "", fmt.Errorf("failed to update archive metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return filename, nil
}

func (a *Archiver) openOrCreateArchiveDB(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(`
		CREATE TABLE IF NOT EXISTS print_runs (
			id TEXT PRIMARY KEY,
			printer_id INTEGER NOT NULL,
			source_label TEXT,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			total_layers INTEGER DEFAULT 0,
			linked_job_id INTEGER,
			duration_min INTEGER,
			material_used_g REAL
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME,
			source_database TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_archive_runs_ended_at ON print_runs(ended_at);
		CREATE INDEX IF NOT EXISTS idx_archive_runs_status ON print_runs(status);
	`)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ListArchives enumerates the monthly archive files on disk.
func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".db") {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		entry := &ArchiveFile{
			Filename:  file.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		}
		if strings.HasPrefix(file.Name(), "runs_") {
			entry.DateRange = strings.TrimSuffix(strings.TrimPrefix(file.Name(), "runs_"), ".db")
		}
		archives = append(archives, entry)
	}
	return archives, nil
}
