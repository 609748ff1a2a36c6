package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// CellCount maps a cell identifier to the number of vehicles in it for one
// resolution and one batch.
type CellCount map[string]int

// Total returns the sum of all counts.
func (c CellCount) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// AggregationRecord is one row of a resolution snapshot.
// LastUpdated, WindowStart and WindowEnd all carry the cycle timestamp.
type AggregationRecord struct {
	H3Index     string    `json:"h3_index" db:"h3_index"`
	Resolution  int       `json:"resolution" db:"resolution"`
	Count       int       `json:"count" db:"count"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	WindowEnd   time.Time `json:"window_end" db:"window_end"`
}

// NewAggregationRecord stamps a record with the cycle timestamp.
func NewAggregationRecord(cell string, resolution, count int, ts time.Time) AggregationRecord {
	return AggregationRecord{
		H3Index:     cell,
		Resolution:  resolution,
		Count:       count,
		LastUpdated: ts,
		WindowStart: ts,
		WindowEnd:   ts,
	}
}

// StoreStats holds diagnostic row counts.
type StoreStats struct {
	RawCount int64
	Counts   map[int]int64
}

// MarshalJSON renders {"raw_count": n, "res9_count": m, ...}.
func (s StoreStats) MarshalJSON() ([]byte, error) {
	out := make(map[string]int64, len(s.Counts)+1)
	out["raw_count"] = s.RawCount
	for res, n := range s.Counts {
		out[fmt.Sprintf("res%d_count", res)] = n
	}
	return json.Marshal(out)
}

// CleanupResult reports how many rows a retention pass removed.
type CleanupResult struct {
	RawDeleted         int64         `json:"raw_deleted"`
	AggregationDeleted map[int]int64 `json:"aggregation_deleted"`
}

// Total returns all deleted rows.
func (r CleanupResult) Total() int64 {
	total := r.RawDeleted
	for _, n := range r.AggregationDeleted {
		total += n
	}
	return total
}
