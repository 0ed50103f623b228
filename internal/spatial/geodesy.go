// Package spatial holds the geometry shared by grouping and attribution:
// great-circle distances, detection footprints, convex hulls, and the raster
// and polygon layer handles loaded from the store.
package spatial

import (
	"math"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

const (
	earthRadiusKm = 6371.0088
	kmPerDegLat   = 111.32
)

// DistanceKm returns the haversine distance between two points.
func DistanceKm(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Footprint returns the four corners of a square of half-width halfKm centered
// on p, counter-clockwise from the south-west corner.
func Footprint(p domain.Point, halfKm float64) [4]domain.Point {
	dLat := halfKm / kmPerDegLat
	cos := math.Cos(p.Lat * math.Pi / 180)
	if cos < 1e-6 {
		cos = 1e-6
	}
	dLon := math.Min(halfKm/(kmPerDegLat*cos), 180)
	return [4]domain.Point{
		{Lon: p.Lon - dLon, Lat: p.Lat - dLat},
		{Lon: p.Lon + dLon, Lat: p.Lat - dLat},
		{Lon: p.Lon + dLon, Lat: p.Lat + dLat},
		{Lon: p.Lon - dLon, Lat: p.Lat + dLat},
	}
}

// Centroid returns the arithmetic mean of points, taken with longitudes
// unwrapped around the first point and wrapped back into [-180, 180).
func Centroid(points []domain.Point) domain.Point {
	if len(points) == 0 {
		return domain.Point{}
	}
	var c domain.Point
	for _, p := range Unwrap(points) {
		c.Lon += p.Lon
		c.Lat += p.Lat
	}
	n := float64(len(points))
	return domain.Point{Lon: WrapLon(c.Lon / n), Lat: c.Lat / n}
}

// Unwrap returns points with every longitude shifted by a multiple of 360°
// to lie within 180° of the first one.
func Unwrap(points []domain.Point) []domain.Point {
	if len(points) == 0 {
		return nil
	}
	out := make([]domain.Point, len(points))
	for i, p := range points {
		out[i] = domain.Point{Lon: UnwrapLon(p.Lon, points[0].Lon), Lat: p.Lat}
	}
	return out
}

// UnwrapLon shifts lon by a multiple of 360° to lie within 180° of ref.
func UnwrapLon(lon, ref float64) float64 {
	return ref + WrapLon(lon-ref)
}

// WrapLon maps lon into [-180, 180).
func WrapLon(lon float64) float64 {
	return math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
}
