package aggregation

import (
	"sort"
	"sync"
	"time"

	"github.com/jengzang/scootermap-go/internal/models"
)

// CellSet is a set of cell identifiers.
type CellSet map[string]struct{}

// NewCellSet builds a set from ids.
func NewCellSet(ids ...string) CellSet {
	s := make(CellSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s CellSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s CellSet) clone() CellSet {
	out := make(CellSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// ActiveCells returns the cells with a positive count.
func ActiveCells(counts models.CellCount) CellSet {
	active := make(CellSet, len(counts))
	for cell, n := range counts {
		if n > 0 {
			active[cell] = struct{}{}
		}
	}
	return active
}

// ServiceArea applies the one-cycle fade for a single resolution.
//
// It emits one record per cell that is active now or was active in the
// previous cycle; cells that emptied since get count 0. The returned set is
// the current active set, which becomes the next cycle's previous set. It is
// not the union: an emptied cell fades for exactly one cycle.
func ServiceArea(resolution int, counts models.CellCount, previous CellSet, ts time.Time) ([]models.AggregationRecord, CellSet) {
	current := ActiveCells(counts)

	area := current.clone()
	for cell := range previous {
		area[cell] = struct{}{}
	}

	records := make([]models.AggregationRecord, 0, len(area))
	for cell := range area {
		records = append(records, models.NewAggregationRecord(cell, resolution, counts[cell], ts))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].H3Index < records[j].H3Index
	})

	return records, current
}

// Tracker remembers, per resolution, the cells that were active at the end
// of the last completed cycle. Nothing is persisted; a restart starts empty.
type Tracker struct {
	mu     sync.RWMutex
	active map[int]CellSet
}

// NewTracker returns a tracker with no prior state.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[int]CellSet)}
}

// NewTrackerWithState seeds the tracker with a prior state.
func NewTrackerWithState(state map[int]CellSet) *Tracker {
	t := NewTracker()
	for res, cells := range state {
		t.active[res] = cells.clone()
	}
	return t
}

// Previous returns a copy of the active set recorded for resolution.
func (t *Tracker) Previous(resolution int) CellSet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active[resolution].clone()
}

// Commit records the active sets of a completed cycle.
func (t *Tracker) Commit(current map[int]CellSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for res, cells := range current {
		t.active[res] = cells.clone()
	}
}

// Sizes returns the number of tracked cells per resolution.
func (t *Tracker) Sizes() map[int]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]int, len(t.active))
	for res, cells := range t.active {
		out[res] = len(cells)
	}
	return out
}
