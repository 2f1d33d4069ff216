package db

import (
	"database/sql"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*Job, error) {
	j := &Job{}
	var printerID sql.NullInt64
	var schedStart, schedEnd, actualStart, actualEnd sql.NullTime
	var durationMin sql.NullInt64
	var matchScore sql.NullFloat64
	var locked, hold int

	err := s.Scan(
		&j.ID, &j.ItemName, &j.FileName, &j.ModelName, &j.ColorsJSON,
		&j.EstDurationMin, &j.EstLayers, &j.Priority, &j.Status,
		&printerID, &schedStart, &schedEnd, &actualStart, &actualEnd,
		&durationMin, &matchScore, &locked, &hold, &j.Source,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if printerID.Valid {
		j.PrinterID = &printerID.Int64
	}
	if schedStart.Valid {
		j.ScheduledStart = &schedStart.Time
	}
	if schedEnd.Valid {
		j.ScheduledEnd = &schedEnd.Time
	}
	if actualStart.Valid {
		j.ActualStart = &actualStart.Time
	}
	if actualEnd.Valid {
		j.ActualEnd = &actualEnd.Time
	}
	if durationMin.Valid {
		d := int(durationMin.Int64)
		j.DurationMin = &d
	}
	if matchScore.Valid {
		j.MatchScore = &matchScore.Float64
	}
	j.Locked = locked == 1
	j.Hold = hold == 1
	return j, nil
}

func scanJobRow(row *sql.Row) (*Job, error) {
	return scanJob(row)
}

func ScanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanRun(s rowScanner) (*PrintRun, error) {
	r := &PrintRun{}
	var endedAt sql.NullTime
	var linkedJobID, durationMin sql.NullInt64
	var materialUsed sql.NullFloat64

	err := s.Scan(
		&r.ID, &r.PrinterID, &r.SourceLabel, &r.Status, &r.StartedAt,
		&endedAt, &r.TotalLayers, &linkedJobID, &durationMin, &materialUsed)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		r.EndedAt = &endedAt.Time
	}
	if linkedJobID.Valid {
		r.LinkedJobID = &linkedJobID.Int64
	}
	if durationMin.Valid {
		d := int(durationMin.Int64)
		r.DurationMin = &d
	}
	if materialUsed.Valid {
		r.MaterialUsedG = &materialUsed.Float64
	}
	return r, nil
}

func scanRunRow(row *sql.Row) (*PrintRun, error) {
	return scanRun(row)
}

func scanRuns(rows *sql.Rows) ([]*PrintRun, error) {
	var runs []*PrintRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
