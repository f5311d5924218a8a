// Package calculator provides GPS distance calculations using the Haversine formula
// to compute great-circle distances between geographic coordinates, plus the
// bounding-box math used to fit a map viewport around a set of markers.
package calculator

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKM is the Earth's radius in kilometers
	EarthRadiusKM = 6371.0
)

// Coordinate is a GPS fix with its accuracy radius in meters.
type Coordinate struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	AccuracyMeters float64 `json:"accuracy_m"`
}

// Valid reports whether the coordinate lies within WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

// String returns "lat,lng" with six decimals.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// DistanceKM calculates the great-circle distance between two coordinates.
// Accuracy is ignored.
func DistanceKM(a, b Coordinate) float64 {
	return Haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Haversine calculates the great-circle distance between two points
// on the Earth's surface given their latitudes and longitudes in decimal degrees
//
// Formula:
// a = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
// c = 2 ⋅ atan2( √a, √(1−a) )
// d = R ⋅ c
//
// where:
// φ is latitude, λ is longitude, R is earth's radius (6371 km)
// Δφ is the difference in latitude, Δλ is the difference in longitude
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := degreesToRadians(lat1)
	lat2Rad := degreesToRadians(lat2)

	deltaLat := degreesToRadians(lat2 - lat1)
	deltaLon := degreesToRadians(lon2 - lon1)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKM * c
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// DistanceMetrics holds calculated distance statistics
type DistanceMetrics struct {
	TotalLocations int     `json:"total_locations"`
	NearestKM      float64 `json:"nearest_km"`
	FarthestKM     float64 `json:"farthest_km"`
	AvgDistanceKM  float64 `json:"avg_distance_km"`
}

// CalculateMetrics computes distance metrics from center to a set of coordinates
func CalculateMetrics(center Coordinate, points []Coordinate) DistanceMetrics {
	if len(points) == 0 {
		return DistanceMetrics{}
	}

	metrics := DistanceMetrics{
		TotalLocations: len(points),
		NearestKM:      math.MaxFloat64,
	}

	var totalDistance float64

	for _, p := range points {
		distance := DistanceKM(center, p)
		totalDistance += distance

		if distance > metrics.FarthestKM {
			metrics.FarthestKM = distance
		}
		if distance < metrics.NearestKM {
			metrics.NearestKM = distance
		}
	}

	metrics.AvgDistanceKM = totalDistance / float64(len(points))

	return metrics
}
