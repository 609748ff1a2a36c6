package spatial

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// BoundingBox is a closed latitude/longitude rectangle. Points on an edge
// are inside.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64

	rect s2.Rect
}

func degrees(d float64) float64 {
	return (s1.Angle(d) * s1.Degree).Radians()
}

// NewBoundingBox builds a box from degree bounds.
func NewBoundingBox(minLat, maxLat, minLon, maxLon float64) BoundingBox {
	return BoundingBox{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLon: minLon,
		MaxLon: maxLon,
		rect: s2.Rect{
			Lat: r1.Interval{Lo: degrees(minLat), Hi: degrees(maxLat)},
			Lng: s1.IntervalFromEndpoints(degrees(minLon), degrees(maxLon)),
		},
	}
}

// Contains reports whether the point lies inside or on the edge of the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return b.rect.ContainsLatLng(s2.LatLngFromDegrees(lat, lon))
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	c := b.rect.Center()
	return c.Lat.Degrees(), c.Lng.Degrees()
}
