package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/orrn/printfarm/internal/config"
	"github.com/orrn/printfarm/internal/db"
)

var ErrNoActivePrinters = errors.New("no active printers")

// Scoring weights. The scheduler is a greedy, explainable heuristic, not
// an optimizer: every term below shows up in the audit trail.
const (
	colorMatchWeight   = 25
	colorMissingWeight = 10
	colorExtraWeight   = 5
	setupPenalty       = 30
	loadPenalty        = 20
	priorityPenalty    = 50

	groupAdjacentBonus = 1000
	groupNearBonus     = 300
	groupFarBonus      = 100
	groupNearSlots     = 4

	lookaheadWeight = 15.0

	setupBlockSlots = 1
)

// Assignment is one job placed on a printer/time slot.
type Assignment struct {
	JobID      int64
	PrinterID  int64
	Start      time.Time
	End        time.Time
	Score      float64
	SetupBlock bool
}

// SkippedJob is a job the pass could not place; soft failure, the run
// continues.
type SkippedJob struct {
	JobID  int64
	Reason string
}

// Result summarizes one batch scheduling pass.
type Result struct {
	Assignments []Assignment
	Skipped     []SkippedJob
	Audit       *db.SchedulerRun
}

type Scheduler struct {
	store *db.Store
	cfg   *config.SchedulerConfig

	// One pass at a time; the run lock serializes the scheduler against
	// itself while printer workers keep running.
	runMu sync.Mutex
}

func New(store *db.Store, cfg *config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store: store,
		cfg:   cfg,
	}
}

// printerTrack is the per-printer state evolved during one pass.
type printerTrack struct {
	printer  *db.Printer
	loaded   map[string]bool
	jobCount int
}

// Run executes one batch scheduling pass over all pending jobs. An empty
// active-printer set aborts the whole run before any write; a single
// infeasible job is skipped and reported, never fatal.
func (s *Scheduler) Run(ctx context.Context, horizonStart time.Time) (*Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	startedAt := time.Now().UTC()

	printers, err := s.store.Printers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(printers) == 0 {
		return nil, ErrNoActivePrinters
	}

	pending, err := s.store.Jobs.GetPending(ctx)
	if err != nil {
		return nil, err
	}

	committed, err := s.store.Jobs.GetCommitted(ctx)
	if err != nil {
		return nil, err
	}

	blackStart, blackEnd, err := s.cfg.BlackoutMinutes()
	if err != nil {
		return nil, err
	}
	grid := newSlotGrid(horizonStart, s.cfg.SlotMinutes, s.cfg.HorizonDays, blackoutWindow{startMin: blackStart, endMin: blackEnd})
	occ := newOccupancy()

	tracks := make([]*printerTrack, 0, len(printers))
	trackByID := make(map[int64]*printerTrack, len(printers))
	for _, p := range printers {
		colors, err := s.store.Printers.LoadedColors(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		t := &printerTrack{printer: p, loaded: colorSet(colors)}
		tracks = append(tracks, t)
		trackByID[p.ID] = t
	}

	// Seed occupancy from committed work so this pass never overlaps it.
	// Work that ended before the horizon cannot overlap it and stays out
	// of the load count; work straddling the horizon reserves only the
	// remaining portion.
	for _, job := range committed {
		if job.PrinterID == nil || job.ScheduledStart == nil || job.ScheduledEnd == nil {
			continue
		}
		if !job.ScheduledEnd.After(grid.base) {
			continue
		}
		from := grid.slotIndex(*job.ScheduledStart)
		end := grid.slotIndex(*job.ScheduledEnd)
		if job.ScheduledEnd.After(grid.slotStart(end)) {
			end++
		}
		occ.reserve(*job.PrinterID, from, end-from)
		if t, ok := trackByID[*job.PrinterID]; ok {
			t.jobCount++
		}
	}

	result := &Result{}
	lastSeen := make(map[string]int)
	setupBlocks := 0
	var scoreSum float64

	for i, job := range pending {
		var next *db.Job
		if i+1 < len(pending) {
			next = pending[i+1]
		}

		cand := s.bestCandidate(grid, occ, tracks, lastSeen, job, next)
		if cand == nil {
			result.Skipped = append(result.Skipped, SkippedJob{
				JobID:  job.ID,
				Reason: "no feasible slot within horizon",
			})
			continue
		}

		start := grid.slotStart(cand.jobSlot)
		end := grid.slotStart(cand.jobSlot + cand.jobSlots)

		// Re-validate the job is still pending at commit time; a
		// concurrent correlation may have claimed it since the pass
		// loaded its candidates.
		assigned, err := s.store.Jobs.Assign(ctx, job.ID, cand.track.printer.ID, start, end)
		if err != nil {
			return nil, err
		}
		if !assigned {
			result.Skipped = append(result.Skipped, SkippedJob{
				JobID:  job.ID,
				Reason: "no longer pending",
			})
			continue
		}

		occ.reserve(cand.track.printer.ID, cand.startSlot, cand.totalSlots)
		if cand.requiresSetup {
			setupBlocks++
			for _, color := range job.Colors() {
				cand.track.loaded[color] = true
			}
		}
		cand.track.jobCount++
		lastSeen[normalizeItem(job.ItemName)] = cand.jobSlot
		scoreSum += cand.score

		result.Assignments = append(result.Assignments, Assignment{
			JobID:      job.ID,
			PrinterID:  cand.track.printer.ID,
			Start:      start,
			End:        end,
			Score:      cand.score,
			SetupBlock: cand.requiresSetup,
		})
	}

	audit := &db.SchedulerRun{
		StartedAt:      startedAt,
		FinishedAt:     time.Now().UTC(),
		ScheduledCount: len(result.Assignments),
		SkippedCount:   len(result.Skipped),
		SetupBlocks:    setupBlocks,
		Notes:          skipNotes(result.Skipped),
	}
	if len(result.Assignments) > 0 {
		audit.AvgScore = scoreSum / float64(len(result.Assignments))
	}
	if err := s.store.SchedulerRuns.Create(ctx, audit); err != nil {
		return nil, err
	}
	result.Audit = audit

	log.Printf("[scheduler] pass complete: %d scheduled, %d skipped, %d setup blocks",
		audit.ScheduledCount, audit.SkippedCount, audit.SetupBlocks)

	return result, nil
}

type candidate struct {
	track         *printerTrack
	startSlot     int // first reserved slot, setup block included
	jobSlot       int // first slot of the job itself
	jobSlots      int
	totalSlots    int
	requiresSetup bool
	score         float64
}

// bestCandidate evaluates the job against every printer in insertion
// order, keeping the best-scoring feasible first-fit placement.
func (s *Scheduler) bestCandidate(grid *slotGrid, occ *occupancy, tracks []*printerTrack, lastSeen map[string]int, job, next *db.Job) *candidate {
	required := job.Colors()
	jobSlots := grid.slotsFor(job.EstDurationMin)

	var best *candidate
	for _, track := range tracks {
		colorScore, requiresSetup := scoreColors(required, track.loaded)

		totalSlots := jobSlots
		if requiresSetup {
			totalSlots += setupBlockSlots
		}

		startSlot, ok := firstFit(grid, occ, track.printer.ID, totalSlots)
		if !ok {
			continue
		}
		jobSlot := startSlot
		if requiresSetup {
			jobSlot += setupBlockSlots
		}

		score := float64(colorScore)
		if requiresSetup {
			score -= setupPenalty
		}
		score -= float64(loadPenalty * track.jobCount)
		score -= float64(priorityPenalty * job.Priority)
		score += groupingBonus(lastSeen, job.ItemName, jobSlot)
		score += lookaheadBonus(next, required, track.loaded)

		if best == nil || score > best.score {
			best = &candidate{
				track:         track,
				startSlot:     startSlot,
				jobSlot:       jobSlot,
				jobSlots:      jobSlots,
				totalSlots:    totalSlots,
				requiresSetup: requiresSetup,
				score:         score,
			}
		}
	}
	return best
}

// firstFit scans forward and takes the first run of free, non-blackout
// slots. Per-printer placement is first-fit, not an exhaustive search;
// only the choice of printer is scored.
func firstFit(grid *slotGrid, occ *occupancy, printerID int64, count int) (int, bool) {
	for start := 0; start+count <= grid.total; start++ {
		if !feasibleAt(grid, occ, printerID, start, count) {
			continue
		}
		return start, true
	}
	return 0, false
}

func feasibleAt(grid *slotGrid, occ *occupancy, printerID int64, start, count int) bool {
	if !occ.free(printerID, start, count) {
		return false
	}
	for i := start; i < start+count; i++ {
		if grid.inBlackout(i) {
			return false
		}
	}
	return true
}

// scoreColors computes the loaded-vs-required color affinity and whether a
// filament change is needed (required not a subset of loaded).
func scoreColors(required []string, loaded map[string]bool) (int, bool) {
	matched, missing := 0, 0
	requiredSet := make(map[string]bool, len(required))
	for _, color := range required {
		requiredSet[color] = true
		if loaded[color] {
			matched++
		} else {
			missing++
		}
	}

	extra := 0
	for color := range loaded {
		if !requiredSet[color] {
			extra++
		}
	}

	score := colorMatchWeight*matched - colorMissingWeight*missing - colorExtraWeight*extra
	return score, missing > 0
}

// groupingBonus rewards placing an item near the last slot the same item
// name was placed at, to keep identical parts batched together.
func groupingBonus(lastSeen map[string]int, itemName string, jobSlot int) float64 {
	seen, ok := lastSeen[normalizeItem(itemName)]
	if !ok {
		return 0
	}
	distance := jobSlot - seen
	if distance < 0 {
		distance = -distance
	}
	switch {
	case distance <= 1:
		return groupAdjacentBonus
	case distance <= groupNearSlots:
		return groupNearBonus
	default:
		return groupFarBonus
	}
}

// lookaheadBonus gives a fractional nudge toward printers whose resulting
// color load also serves the next job in the queue.
func lookaheadBonus(next *db.Job, required []string, loaded map[string]bool) float64 {
	if next == nil {
		return 0
	}
	nextColors := next.Colors()
	if len(nextColors) == 0 {
		return 0
	}

	// Colors present after this job runs: current load plus anything a
	// setup for this job would bring in.
	after := make(map[string]bool, len(loaded)+len(required))
	for color := range loaded {
		after[color] = true
	}
	for _, color := range required {
		after[color] = true
	}

	overlap := 0
	for _, color := range nextColors {
		if after[color] {
			overlap++
		}
	}
	return lookaheadWeight * float64(overlap) / float64(len(nextColors))
}

func colorSet(colors []string) map[string]bool {
	set := make(map[string]bool, len(colors))
	for _, color := range colors {
		set[color] = true
	}
	return set
}

func normalizeItem(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func skipNotes(skipped []SkippedJob) string {
	if len(skipped) == 0 {
		return ""
	}
	parts := make([]string, 0, len(skipped))
	for _, s := range skipped {
		parts = append(parts, fmt.Sprintf("job %d: %s", s.JobID, s.Reason))
	}
	return strings.Join(parts, "; ")
}
