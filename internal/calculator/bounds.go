package calculator

import "math"

// Bounds is a latitude/longitude rectangle.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundsOf returns the smallest rectangle containing every point.
// The second return value is false when points is empty.
func BoundsOf(points []Coordinate) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}

	b := Bounds{
		South: math.Inf(1),
		West:  math.Inf(1),
		North: math.Inf(-1),
		East:  math.Inf(-1),
	}
	for _, p := range points {
		b.South = math.Min(b.South, p.Latitude)
		b.North = math.Max(b.North, p.Latitude)
		b.West = math.Min(b.West, p.Longitude)
		b.East = math.Max(b.East, p.Longitude)
	}

	return b, true
}

// Pad grows the rectangle on every side by ratio times its span,
// the same way Leaflet's LatLngBounds.pad does.
func (b Bounds) Pad(ratio float64) Bounds {
	latPad := (b.North - b.South) * ratio
	lngPad := (b.East - b.West) * ratio

	return Bounds{
		South: b.South - latPad,
		West:  b.West - lngPad,
		North: b.North + latPad,
		East:  b.East + lngPad,
	}
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Latitude:  (b.South + b.North) / 2,
		Longitude: (b.West + b.East) / 2,
	}
}

// Contains reports whether c lies inside the rectangle (edges included).
func (b Bounds) Contains(c Coordinate) bool {
	return c.Latitude >= b.South && c.Latitude <= b.North &&
		c.Longitude >= b.West && c.Longitude <= b.East
}
