// Package geo holds the spherical math used by the geofence and proximity code.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for all great-circle math.
const EarthRadiusMeters = 6371000.0

var (
	ErrLatitudeOutOfRange  = errors.New("latitude must be within [-90, 90]")
	ErrLongitudeOutOfRange = errors.New("longitude must be within [-180, 180]")
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lng)
}

// Validate rejects non-finite and out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return ErrLatitudeOutOfRange
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Beyond reports whether p lies strictly farther than radiusMeters from center.
// A point exactly on the boundary is inside.
func Beyond(center, p Point, radiusMeters float64) (float64, bool) {
	d := Haversine(center, p)
	return d, d > radiusMeters
}

// Destination walks distanceMeters from origin along the initial bearing
// (degrees clockwise from north).
func Destination(origin Point, bearingDegrees, distanceMeters float64) Point {
	delta := distanceMeters / EarthRadiusMeters
	theta := toRadians(bearingDegrees)
	lat1 := toRadians(origin.Lat)
	lng1 := toRadians(origin.Lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lng2 := lng1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Point{
		Lat: toDegrees(lat2),
		Lng: normalizeLongitude(toDegrees(lng2)),
	}
}

func normalizeLongitude(lng float64) float64 {
	lng = math.Mod(lng+540, 360) - 180
	if lng == -180 {
		return 180
	}
	return lng
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
