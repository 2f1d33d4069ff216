package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printfarm/internal/db"
)

// Match scores by method; recorded on the job so operators can see how
// confident the link was.
const (
	scoreNameMatch   = 100.0
	scoreLayerMatch  = 80.0
	scoreWindowMatch = 60.0
)

const matchWindow = 2 * time.Hour

// layerRatioLimit bounds how far apart two layer counts may be for the
// windowed fallback to accept a candidate.
const layerRatioLimit = 1.2

var strippedExtensions = []string{".gcode.3mf", ".3mf", ".gcode", ".bgcode", ".stl", ".obj"}

// Correlator links a physical print to a previously scheduled job using a
// layered heuristic. On ambiguity it links nothing; ambiguity is not an
// error. It always runs inside the recorder's exclusive transaction.
type Correlator struct {
	staleAfter     time.Duration
	candidateLimit int
}

func NewCorrelator(staleAfter time.Duration, candidateLimit int) *Correlator {
	if staleAfter <= 0 {
		staleAfter = matchWindow
	}
	if candidateLimit <= 0 {
		candidateLimit = 10
	}
	return &Correlator{
		staleAfter:     staleAfter,
		candidateLimit: candidateLimit,
	}
}

// CorrelationResult reports what one correlation attempt did. Swept and
// Displaced carry jobs whose assignments were cleared inside the
// transaction; the caller surfaces alerts for them only after commit.
type CorrelationResult struct {
	Job       *db.Job
	Score     float64
	Method    string
	Swept     []*db.Job
	Displaced []*db.Job
}

// Linked reports whether a job was matched.
func (r *CorrelationResult) Linked() bool {
	return r.Job != nil
}

// Correlate sweeps stale schedules on the printer, then tries to match the
// reported print. When nothing links and candidates existed, the print is
// ad-hoc: every scheduled job on the printer is bumped back to pending.
func (c *Correlator) Correlate(ctx context.Context, q db.Queryer, printerID int64, sourceLabel string, totalLayers int, now time.Time) (*CorrelationResult, error) {
	result := &CorrelationResult{}

	swept, err := c.sweepStale(ctx, q, printerID, now)
	if err != nil {
		return nil, err
	}
	result.Swept = swept

	candidates, err := c.candidates(ctx, q, printerID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	if job := matchByName(candidates, sourceLabel); job != nil {
		result.Job = job
		result.Score = scoreNameMatch
		result.Method = "name"
		return result, nil
	}

	if job := matchByLayerCount(candidates, totalLayers); job != nil {
		result.Job = job
		result.Score = scoreLayerMatch
		result.Method = "layers"
		return result, nil
	}

	if job := matchByWindow(candidates, totalLayers, now); job != nil {
		result.Job = job
		result.Score = scoreWindowMatch
		result.Method = "window"
		return result, nil
	}

	displaced, err := c.bumpScheduled(ctx, q, printerID)
	if err != nil {
		return nil, err
	}
	result.Displaced = displaced
	return result, nil
}

// sweepStale resets scheduled jobs on the printer whose scheduled start is
// further in the past than the stale window, clearing their assignment.
func (c *Correlator) sweepStale(ctx context.Context, q db.Queryer, printerID int64, now time.Time) ([]*db.Job, error) {
	jobs, err := scheduledJobs(ctx, q, printerID)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-c.staleAfter)
	var swept []*db.Job
	for _, job := range jobs {
		if job.ScheduledStart == nil || !job.ScheduledStart.Before(cutoff) {
			continue
		}
		if _, err := q.ExecContext(ctx, db.ResetJobToPending, job.ID); err != nil {
			return nil, fmt.Errorf("failed to sweep stale job %d: %w", job.ID, err)
		}
		swept = append(swept, job)
	}
	return swept, nil
}

// bumpScheduled clears every remaining scheduled job on the printer so the
// ad-hoc print does not silently consume their slots.
func (c *Correlator) bumpScheduled(ctx context.Context, q db.Queryer, printerID int64) ([]*db.Job, error) {
	jobs, err := scheduledJobs(ctx, q, printerID)
	if err != nil {
		return nil, err
	}

	var displaced []*db.Job
	for _, job := range jobs {
		if _, err := q.ExecContext(ctx, db.ResetJobToPending, job.ID); err != nil {
			return nil, fmt.Errorf("failed to bump job %d: %w", job.ID, err)
		}
		displaced = append(displaced, job)
	}
	return displaced, nil
}

func (c *Correlator) candidates(ctx context.Context, q db.Queryer, printerID int64) ([]*db.Job, error) {
	rows, err := q.QueryContext(ctx, db.GetCandidateJobs, printerID, c.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate jobs: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

func scheduledJobs(ctx context.Context, q db.Queryer, printerID int64) ([]*db.Job, error) {
	rows, err := q.QueryContext(ctx, db.GetScheduledJobsByPrinter, printerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled jobs: %w", err)
	}
	defer rows.Close()
	return db.ScanJobs(rows)
}

// normalizeLabel lowercases and strips known model / gcode extensions so
// "BabyYoda.3mf" compares equal to "babyyoda".
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, ext := range strippedExtensions {
		if strings.HasSuffix(s, ext) {
			s = strings.TrimSuffix(s, ext)
			break
		}
	}
	return s
}

func matchByName(candidates []*db.Job, sourceLabel string) *db.Job {
	label := normalizeLabel(sourceLabel)
	if label == "" {
		return nil
	}

	for _, job := range candidates {
		for _, name := range []string{job.FileName, job.ItemName, job.ModelName} {
			n := normalizeLabel(name)
			if n == "" {
				continue
			}
			if strings.Contains(n, label) || strings.Contains(label, n) {
				return job
			}
		}
	}
	return nil
}

// matchByLayerCount links on a layer count shared by exactly one candidate.
// A reported count of zero disables this stage; two candidates with the same
// count is ambiguous and links nothing.
func matchByLayerCount(candidates []*db.Job, totalLayers int) *db.Job {
	if totalLayers == 0 {
		return nil
	}

	var match *db.Job
	for _, job := range candidates {
		if job.EstLayers != totalLayers {
			continue
		}
		if match != nil {
			return nil
		}
		match = job
	}
	return match
}

// matchByWindow links the sole scheduled candidate whose start is within
// the match window of now and whose layer count, when both sides know it,
// is within the ratio limit.
func matchByWindow(candidates []*db.Job, totalLayers int, now time.Time) *db.Job {
	var match *db.Job
	for _, job := range candidates {
		if job.Status != db.JobStatusScheduled || job.ScheduledStart == nil {
			continue
		}
		delta := now.Sub(*job.ScheduledStart)
		if delta < 0 {
			delta = -delta
		}
		if delta > matchWindow {
			continue
		}
		if totalLayers > 0 && job.EstLayers > 0 {
			ratio := float64(totalLayers) / float64(job.EstLayers)
			if ratio < 1 {
				ratio = 1 / ratio
			}
			if ratio > layerRatioLimit {
				continue
			}
		}
		if match != nil {
			return nil
		}
		match = job
	}
	return match
}
