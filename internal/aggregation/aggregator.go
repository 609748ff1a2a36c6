package aggregation

import (
	"fmt"
	"time"

	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/spatial"
)

// Aggregator turns a batch of raw reports into per-resolution cell counts.
type Aggregator struct {
	bounds      spatial.BoundingBox
	resolutions []int
}

// Result is the output of aggregating one batch.
type Result struct {
	Received  int
	Locations []models.RawLocation
	Counts    map[int]models.CellCount
}

// NewAggregator validates the resolution set and returns an aggregator.
func NewAggregator(bounds spatial.BoundingBox, resolutions []int) (*Aggregator, error) {
	if len(resolutions) == 0 {
		return nil, fmt.Errorf("aggregator: no resolutions configured")
	}
	for _, r := range resolutions {
		if err := spatial.ValidateResolution(r); err != nil {
			return nil, err
		}
	}

	res := make([]int, len(resolutions))
	copy(res, resolutions)
	return &Aggregator{bounds: bounds, resolutions: res}, nil
}

// Resolutions returns the configured resolutions, finest first.
func (a *Aggregator) Resolutions() []int {
	res := make([]int, len(a.resolutions))
	copy(res, a.resolutions)
	return res
}

// Deduplicate keeps the first valid report per bike id, in batch order.
// Reports with an empty id, a missing coordinate or a position outside the
// bounding box are dropped. A later duplicate never replaces a kept one.
func (a *Aggregator) Deduplicate(batch []models.RawReport, ts time.Time) []models.RawLocation {
	seen := make(map[string]struct{}, len(batch))
	locations := make([]models.RawLocation, 0, len(batch))

	for _, r := range batch {
		if r.BikeID == "" {
			continue
		}
		if _, ok := seen[r.BikeID]; ok {
			continue
		}
		if r.Lat == nil || r.Lon == nil || !a.bounds.Contains(*r.Lat, *r.Lon) {
			continue
		}

		seen[r.BikeID] = struct{}{}
		locations = append(locations, models.RawLocation{
			BikeID:        r.BikeID,
			Lat:           *r.Lat,
			Lon:           *r.Lon,
			Timestamp:     ts,
			IsReserved:    r.IsReserved,
			IsDisabled:    r.IsDisabled,
			VehicleTypeID: r.VehicleTypeID,
		})
	}
	return locations
}

// Count groups locations into cells for every configured resolution.
// Every resolution gets an entry, empty when there are no locations.
func (a *Aggregator) Count(locations []models.RawLocation) (map[int]models.CellCount, error) {
	counts := make(map[int]models.CellCount, len(a.resolutions))
	for _, res := range a.resolutions {
		cc := make(models.CellCount)
		for _, loc := range locations {
			cell, err := spatial.Encode(loc.Lat, loc.Lon, res)
			if err != nil {
				return nil, fmt.Errorf("encode %s at resolution %d: %w", loc.BikeID, res, err)
			}
			cc[cell]++
		}
		counts[res] = cc
	}
	return counts, nil
}

// Aggregate runs deduplication and counting for one batch.
func (a *Aggregator) Aggregate(batch []models.RawReport, ts time.Time) (*Result, error) {
	locations := a.Deduplicate(batch, ts)
	counts, err := a.Count(locations)
	if err != nil {
		return nil, err
	}
	return &Result{
		Received:  len(batch),
		Locations: locations,
		Counts:    counts,
	}, nil
}
