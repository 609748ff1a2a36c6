package models

import "time"

// LatLon is a coordinate pair in API responses
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Hexagon is a snapshot record enriched with geometry
type Hexagon struct {
	H3Index     string    `json:"h3_index"`
	Center      LatLon    `json:"center"`
	Boundary    []LatLon  `json:"boundary"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// HeatmapMetadata describes the filter applied to a heatmap response
type HeatmapMetadata struct {
	MinCountFilter       int               `json:"min_count_filter"`
	AvailableResolutions []int             `json:"available_resolutions"`
	Distribution         CountDistribution `json:"distribution"`
}

// CountDistribution summarizes vehicle counts across the returned cells
type CountDistribution struct {
	Cells   int     `json:"cells"`
	Mean    float64 `json:"mean"`
	Median  float64 `json:"median"`
	P90     float64 `json:"p90"`
	Max     float64 `json:"max"`
	Entropy float64 `json:"entropy"`
}

// HeatmapResponse represents the heatmap API response
type HeatmapResponse struct {
	Resolution    int             `json:"resolution"`
	Timestamp     time.Time       `json:"timestamp"`
	Hexagons      []Hexagon       `json:"hexagons"`
	TotalVehicles int             `json:"total_vehicles"`
	HexagonCount  int             `json:"hexagon_count"`
	Metadata      HeatmapMetadata `json:"metadata"`
}

// CellInfo describes a single cell and its ancestors
type CellInfo struct {
	H3Index    string         `json:"h3_index"`
	Resolution int            `json:"resolution"`
	Center     LatLon         `json:"center"`
	Boundary   []LatLon       `json:"boundary"`
	Parents    map[int]string `json:"parents"`
}

// StatsResponse is returned by the stats endpoint
type StatsResponse struct {
	Timestamp     time.Time     `json:"timestamp"`
	Database      StoreStats    `json:"database"`
	Configuration StatsSettings `json:"configuration"`
}

// StatsSettings echoes the aggregation settings
type StatsSettings struct {
	Resolutions       []int `json:"resolutions"`
	WindowSizeMinutes int   `json:"window_size_minutes"`
	RetentionMinutes  int   `json:"retention_minutes"`
}
