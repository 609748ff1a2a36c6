package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/uber/h3-go/v4"

	"github.com/jengzang/scootermap-go/internal/models"
)

var (
	// ErrInvalidResolution is returned for resolutions outside [0,15] or a
	// parent resolution that is not coarser than the cell.
	ErrInvalidResolution = errors.New("invalid h3 resolution")
	// ErrInvalidCell is returned for malformed cell identifiers.
	ErrInvalidCell = errors.New("invalid h3 cell")
	// ErrInvalidCoordinate is returned for coordinates off the globe.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// ValidateResolution checks that r is a supported H3 resolution.
func ValidateResolution(r int) error {
	if r < 0 || r > h3.MaxResolution {
		return fmt.Errorf("%w: %d", ErrInvalidResolution, r)
	}
	return nil
}

func validateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

func parseCell(cellID string) (h3.Cell, error) {
	cell := h3.Cell(h3.IndexFromString(cellID))
	if cellID == "" || !cell.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCell, cellID)
	}
	return cell, nil
}

// Encode maps a coordinate to the cell containing it at the given resolution.
func Encode(lat, lon float64, resolution int) (string, error) {
	if err := ValidateResolution(resolution); err != nil {
		return "", err
	}
	if err := validateCoordinate(lat, lon); err != nil {
		return "", err
	}
	return h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution).String(), nil
}

// EncodeAll encodes a coordinate at every resolution independently.
func EncodeAll(lat, lon float64, resolutions []int) (map[int]string, error) {
	out := make(map[int]string, len(resolutions))
	for _, r := range resolutions {
		cell, err := Encode(lat, lon, r)
		if err != nil {
			return nil, err
		}
		out[r] = cell
	}
	return out, nil
}

// Parent returns the ancestor of cellID at a strictly coarser resolution.
func Parent(cellID string, resolution int) (string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return "", err
	}
	if err := ValidateResolution(resolution); err != nil {
		return "", err
	}
	if resolution >= cell.Resolution() {
		return "", fmt.Errorf("%w: parent resolution %d is not coarser than %d", ErrInvalidResolution, resolution, cell.Resolution())
	}
	return cell.Parent(resolution).String(), nil
}

// Resolution returns the resolution encoded in cellID.
func Resolution(cellID string) (int, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

// IsValid reports whether cellID is a well-formed H3 cell.
func IsValid(cellID string) bool {
	_, err := parseCell(cellID)
	return err == nil
}

// Boundary returns the cell polygon vertices in counter-clockwise order.
// The ring is not closed.
func Boundary(cellID string) ([]models.LatLon, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return nil, err
	}
	boundary := cell.Boundary()
	out := make([]models.LatLon, len(boundary))
	for i, ll := range boundary {
		out[i] = models.LatLon{Lat: ll.Lat, Lon: ll.Lng}
	}
	return out, nil
}

// Center returns the centroid of the cell.
func Center(cellID string) (models.LatLon, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return models.LatLon{}, err
	}
	ll := cell.LatLng()
	return models.LatLon{Lat: ll.Lat, Lon: ll.Lng}, nil
}

// CellsInBounds returns the cells whose centers fall inside the box.
func CellsInBounds(box BoundingBox, resolution int) ([]string, error) {
	if err := ValidateResolution(resolution); err != nil {
		return nil, err
	}

	polygon := h3.GeoPolygon{
		GeoLoop: h3.GeoLoop{
			h3.NewLatLng(box.MinLat, box.MinLon),
			h3.NewLatLng(box.MinLat, box.MaxLon),
			h3.NewLatLng(box.MaxLat, box.MaxLon),
			h3.NewLatLng(box.MaxLat, box.MinLon),
		},
	}

	cells := h3.PolygonToCells(polygon, resolution)
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out, nil
}
