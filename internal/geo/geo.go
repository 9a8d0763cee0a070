// Package geo holds the coordinate types and the distance and intersection
// primitives the risk engine is built on.
package geo

import (
	"fmt"
	"math"

	"guardian-angel/internal/apperr"
)

// EarthRadiusM is the mean Earth radius used by every distance computation.
const EarthRadiusM = 6371000.0

// metersPerDegree is the length of one degree of latitude on the mean sphere.
const metersPerDegree = EarthRadiusM * math.Pi / 180

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Route is an ordered path from origin to destination.
type Route []Coordinate

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lng) || math.IsInf(c.Lng, 0) {
		return apperr.InvalidArgument("coordinate (%v, %v) is not finite", c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return apperr.InvalidArgument("latitude %v must be between -90 and 90", c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return apperr.InvalidArgument("longitude %v must be between -180 and 180", c.Lng)
	}
	return nil
}

// Validate checks every vertex. A route needs at least two points.
func (r Route) Validate() error {
	if len(r) < 2 {
		return apperr.InvalidArgument("route has %d points, need at least 2", len(r))
	}
	for i, c := range r {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("route point %d: %w", i, err)
		}
	}
	return nil
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// SegmentIntersectsCircle reports whether any point of the segment p1-p2 lies
// within radius meters of center.
//
// Points are projected onto a local equirectangular plane centred on the
// circle, with longitude scaled by cos(center latitude). The approximation
// holds for radii and segments up to a few kilometres; it is not meant for
// intercontinental segments.
func SegmentIntersectsCircle(p1, p2, center Coordinate, radius float64) bool {
	kx := metersPerDegree * math.Cos(center.Lat*math.Pi/180)
	project := func(c Coordinate) (float64, float64) {
		return (c.Lng - center.Lng) * kx, (c.Lat - center.Lat) * metersPerDegree
	}

	ax, ay := project(p1)
	bx, by := project(p2)
	dx, dy := bx-ax, by-ay

	t := 0.0
	if lenSq := dx*dx + dy*dy; lenSq > 0 {
		// center is the origin, so dot(center-p1, p2-p1) = -(ax*dx + ay*dy)
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}

	cx, cy := ax+t*dx, ay+t*dy
	return cx*cx+cy*cy <= radius*radius
}
