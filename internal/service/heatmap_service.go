package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/spatial"
	"github.com/jengzang/scootermap-go/internal/stats"
)

// SnapshotReader is the read side of the snapshot store
type SnapshotReader interface {
	QueryAggregation(ctx context.Context, resolution, minCount int) ([]models.AggregationRecord, error)
	Stats(ctx context.Context) (models.StoreStats, error)
}

// ErrInvalidParameter marks request values outside the accepted range
var ErrInvalidParameter = errors.New("invalid parameter")

// ParamError describes a rejected request parameter
type ParamError struct {
	Param   string
	Value   interface{}
	Allowed interface{}
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid value %v for %s, allowed: %v", e.Value, e.Param, e.Allowed)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameter }

// HeatmapSettings are the read-side settings taken from config
type HeatmapSettings struct {
	Resolutions       []int
	DefaultResolution int
	WindowSizeMinutes int
	RetentionMinutes  int
}

// HeatmapService builds map responses from stored snapshots
type HeatmapService struct {
	store    SnapshotReader
	settings HeatmapSettings
	now      func() time.Time
}

// NewHeatmapService creates a new heatmap service
func NewHeatmapService(store SnapshotReader, settings HeatmapSettings) *HeatmapService {
	return &HeatmapService{store: store, settings: settings, now: time.Now}
}

// Resolutions returns the configured resolutions
func (s *HeatmapService) Resolutions() []int {
	return append([]int(nil), s.settings.Resolutions...)
}

func (s *HeatmapService) resolve(filter models.HeatmapFilter) (int, int, error) {
	resolution := s.settings.DefaultResolution
	if filter.Resolution != nil {
		resolution = *filter.Resolution
	}
	found := false
	for _, r := range s.settings.Resolutions {
		if r == resolution {
			found = true
			break
		}
	}
	if !found {
		return 0, 0, &ParamError{Param: "resolution", Value: resolution, Allowed: s.settings.Resolutions}
	}

	minCount := 1
	if filter.MinCount != nil {
		minCount = *filter.MinCount
	}
	if minCount < 0 {
		return 0, 0, &ParamError{Param: "min_count", Value: minCount, Allowed: ">= 0"}
	}
	return resolution, minCount, nil
}

// Heatmap returns the snapshot for a resolution enriched with cell geometry
func (s *HeatmapService) Heatmap(ctx context.Context, filter models.HeatmapFilter) (*models.HeatmapResponse, error) {
	resolution, minCount, err := s.resolve(filter)
	if err != nil {
		return nil, err
	}

	records, err := s.store.QueryAggregation(ctx, resolution, minCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap data: %w", err)
	}

	resp := &models.HeatmapResponse{
		Resolution: resolution,
		Timestamp:  s.now().UTC(),
		Hexagons:   make([]models.Hexagon, 0, len(records)),
		Metadata: models.HeatmapMetadata{
			MinCountFilter:       minCount,
			AvailableResolutions: s.Resolutions(),
		},
	}

	counts := make([]int, 0, len(records))
	for _, rec := range records {
		center, err := spatial.Center(rec.H3Index)
		if err != nil {
			return nil, err
		}
		boundary, err := spatial.Boundary(rec.H3Index)
		if err != nil {
			return nil, err
		}
		resp.Hexagons = append(resp.Hexagons, models.Hexagon{
			H3Index:     rec.H3Index,
			Center:      center,
			Boundary:    boundary,
			Count:       rec.Count,
			LastUpdated: rec.LastUpdated,
		})
		resp.TotalVehicles += rec.Count
		counts = append(counts, rec.Count)
	}
	resp.HexagonCount = len(resp.Hexagons)
	resp.Metadata.Distribution = stats.Summarize(counts)

	return resp, nil
}

// GeoJSON returns the snapshot as a FeatureCollection of closed polygons
func (s *HeatmapService) GeoJSON(ctx context.Context, filter models.HeatmapFilter) (*geojson.FeatureCollection, error) {
	resolution, minCount, err := s.resolve(filter)
	if err != nil {
		return nil, err
	}

	records, err := s.store.QueryAggregation(ctx, resolution, minCount)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap data: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	total := 0
	for _, rec := range records {
		boundary, err := spatial.Boundary(rec.H3Index)
		if err != nil {
			return nil, err
		}

		ring := make(orb.Ring, 0, len(boundary)+1)
		for _, p := range boundary {
			ring = append(ring, orb.Point{p.Lon, p.Lat})
		}
		if len(ring) > 0 {
			ring = append(ring, ring[0])
		}

		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties["h3_index"] = rec.H3Index
		f.Properties["count"] = rec.Count
		f.Properties["resolution"] = resolution
		f.Properties["last_updated"] = rec.LastUpdated.Format(time.RFC3339)
		fc.Append(f)
		total += rec.Count
	}

	fc.ExtraMembers = geojson.Properties{
		"properties": map[string]interface{}{
			"timestamp":      s.now().UTC().Format(time.RFC3339),
			"resolution":     resolution,
			"total_vehicles": total,
			"hexagon_count":  len(fc.Features),
		},
	}
	return fc, nil
}

// Stats returns store statistics with the aggregation settings
func (s *HeatmapService) Stats(ctx context.Context) (*models.StatsResponse, error) {
	storeStats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &models.StatsResponse{
		Timestamp: s.now().UTC(),
		Database:  storeStats,
		Configuration: models.StatsSettings{
			Resolutions:       s.Resolutions(),
			WindowSizeMinutes: s.settings.WindowSizeMinutes,
			RetentionMinutes:  s.settings.RetentionMinutes,
		},
	}, nil
}

// Cell describes a cell with its ancestors at every coarser configured resolution
func (s *HeatmapService) Cell(cellID string) (*models.CellInfo, error) {
	resolution, err := spatial.Resolution(cellID)
	if err != nil {
		return nil, &ParamError{Param: "cell", Value: cellID, Allowed: "h3 cell index"}
	}
	center, err := spatial.Center(cellID)
	if err != nil {
		return nil, err
	}
	boundary, err := spatial.Boundary(cellID)
	if err != nil {
		return nil, err
	}

	info := &models.CellInfo{
		H3Index:    cellID,
		Resolution: resolution,
		Center:     center,
		Boundary:   boundary,
		Parents:    make(map[int]string),
	}
	for _, r := range s.settings.Resolutions {
		if r >= resolution {
			continue
		}
		parent, err := spatial.Parent(cellID, r)
		if err != nil {
			return nil, err
		}
		info.Parents[r] = parent
	}
	return info, nil
}

// Locate returns the cell containing a coordinate at every configured resolution
func (s *HeatmapService) Locate(lat, lon float64) (map[int]string, error) {
	cells, err := spatial.EncodeAll(lat, lon, s.settings.Resolutions)
	if err != nil {
		if errors.Is(err, spatial.ErrInvalidCoordinate) {
			return nil, &ParamError{Param: "lat,lon", Value: fmt.Sprintf("%v,%v", lat, lon), Allowed: "lat [-90,90], lon [-180,180]"}
		}
		return nil, err
	}
	return cells, nil
}
