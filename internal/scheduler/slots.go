package scheduler

import (
	"time"
)

// slotGrid quantizes the horizon into fixed-width slots indexed from the
// aligned horizon start.
type slotGrid struct {
	base     time.Time
	slotDur  time.Duration
	total    int
	blackout blackoutWindow
}

func newSlotGrid(horizonStart time.Time, slotMinutes, horizonDays int, blackout blackoutWindow) *slotGrid {
	slotDur := time.Duration(slotMinutes) * time.Minute
	base := horizonStart.Truncate(slotDur)
	if base.Before(horizonStart) {
		base = base.Add(slotDur)
	}
	return &slotGrid{
		base:     base,
		slotDur:  slotDur,
		total:    horizonDays * 24 * 60 / slotMinutes,
		blackout: blackout,
	}
}

func (g *slotGrid) slotStart(index int) time.Time {
	return g.base.Add(time.Duration(index) * g.slotDur)
}

// slotIndex maps a time to its slot, clamping times before the grid to 0.
func (g *slotGrid) slotIndex(t time.Time) int {
	if t.Before(g.base) {
		return 0
	}
	return int(t.Sub(g.base) / g.slotDur)
}

// slotsFor returns how many slots a duration occupies, at least one.
func (g *slotGrid) slotsFor(minutes int) int {
	if minutes <= 0 {
		return 1
	}
	n := (time.Duration(minutes)*time.Minute + g.slotDur - 1) / g.slotDur
	return int(n)
}

func (g *slotGrid) inBlackout(index int) bool {
	return g.blackout.contains(g.slotStart(index))
}

// blackoutWindow is a time-of-day range during which no slot may be used.
// start and end are minutes of day; the window may wrap midnight.
type blackoutWindow struct {
	startMin int
	endMin   int
}

func (w blackoutWindow) contains(t time.Time) bool {
	if w.startMin == w.endMin {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	if w.startMin < w.endMin {
		return m >= w.startMin && m < w.endMin
	}
	return m >= w.startMin || m < w.endMin
}

// occupancy tracks reserved slots per printer for one scheduling pass.
type occupancy struct {
	slots map[int64]map[int]bool
}

func newOccupancy() *occupancy {
	return &occupancy{slots: make(map[int64]map[int]bool)}
}

func (o *occupancy) reserve(printerID int64, from, count int) {
	m, ok := o.slots[printerID]
	if !ok {
		m = make(map[int]bool)
		o.slots[printerID] = m
	}
	for i := from; i < from+count; i++ {
		m[i] = true
	}
}

func (o *occupancy) free(printerID int64, from, count int) bool {
	m := o.slots[printerID]
	for i := from; i < from+count; i++ {
		if m[i] {
			return false
		}
	}
	return true
}
