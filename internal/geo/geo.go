// Package geo implements the haversine-distance geometry the filter and
// sort grammars need for `_geoRadius`, `_geoBoundingBox`, and
// `_geoPoint(lat,lng):asc|desc` (spec §6).
package geo

import "math"

// earthRadiusMeters is the mean Earth radius used by the haversine
// formula; matches the constant Meilisearch and most geo libraries use.
const earthRadiusMeters = 6_371_000.0

// Point is a WGS84 latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// DistanceMeters returns the great-circle distance between a and b via
// the haversine formula.
func DistanceMeters(a, b Point) float64 {
	lat1, lat2 := degToRad(a.Lat), degToRad(b.Lat)
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	sinDLat := math.Sin(dLat / 2)
	sinDLng := math.Sin(dLng / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLng*sinDLng
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius reports whether p lies within radiusMeters of center
// (spec §6 `_geoRadius(lat, lng, radius)`).
func WithinRadius(p, center Point, radiusMeters float64) bool {
	return DistanceMeters(p, center) <= radiusMeters
}

// BoundingBox is the rectangle described by its top-left and
// bottom-right corners (spec §6 `_geoBoundingBox((lat,lng),(lat,lng))`).
type BoundingBox struct {
	TopLeft     Point
	BottomRight Point
}

// Contains reports whether p lies within b, handling the antimeridian
// case where TopLeft.Lng > BottomRight.Lng (the box wraps past +/-180).
func (b BoundingBox) Contains(p Point) bool {
	if p.Lat > b.TopLeft.Lat || p.Lat < b.BottomRight.Lat {
		return false
	}
	if b.TopLeft.Lng <= b.BottomRight.Lng {
		return p.Lng >= b.TopLeft.Lng && p.Lng <= b.BottomRight.Lng
	}
	return p.Lng >= b.TopLeft.Lng || p.Lng <= b.BottomRight.Lng
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180 }
