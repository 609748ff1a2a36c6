package models

// HeatmapFilter represents query parameters for heatmap endpoints.
// Nil fields fall back to configured defaults.
type HeatmapFilter struct {
	Resolution *int `form:"resolution"`
	MinCount   *int `form:"min_count"`
}
