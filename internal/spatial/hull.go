package spatial

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/wkt"
)

// ConvexHull returns the closed counter-clockwise hull of points using Andrew's
// monotone chain. Collinear points on the boundary are dropped. Fewer than
// three distinct points yield a degenerate ring of the distinct points.
func ConvexHull(points []domain.Point) []domain.Point {
	pts := append([]domain.Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Lon != pts[j].Lon {
			return pts[i].Lon < pts[j].Lon
		}
		return pts[i].Lat < pts[j].Lat
	})
	pts = dedupe(pts)
	if len(pts) < 3 {
		return closeRing(pts)
	}

	hull := make([]domain.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point equals the first, so the ring is already closed.
	return hull
}

func cross(o, a, b domain.Point) float64 {
	return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lon-o.Lon)
}

func dedupe(sorted []domain.Point) []domain.Point {
	out := sorted[:0]
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func closeRing(pts []domain.Point) []domain.Point {
	if len(pts) == 0 {
		return nil
	}
	return append(pts, pts[0])
}

// FootprintHull is the event geometry: the hull of every member's footprint.
// Longitudes are unwrapped around the first point, so a ring across the
// antimeridian stays narrow and may extend past ±180.
func FootprintHull(points []domain.Point, halfKm []float64) []domain.Point {
	corners := make([]domain.Point, 0, 4*len(points))
	for i, p := range Unwrap(points) {
		fp := Footprint(p, halfKm[i])
		corners = append(corners, fp[:]...)
	}
	return ConvexHull(corners)
}

// Polygons returns the ring as a polygon plus, when it extends past ±180, a
// copy shifted by 360° so both sides of the antimeridian can be matched
// against layers in [-180, 180].
func Polygons(ring []domain.Point) []geom.Polygon {
	poly := Polygon(ring)
	out := []geom.Polygon{poly}
	if len(ring) == 0 {
		return out
	}
	b := poly.Bounds()
	switch {
	case b.Max.X > 180:
		out = append(out, shift(poly, -360))
	case b.Min.X < -180:
		out = append(out, shift(poly, 360))
	}
	return out
}

func shift(poly geom.Polygon, dx float64) geom.Polygon {
	out := make(geom.Polygon, len(poly))
	for i, path := range poly {
		out[i] = make(geom.Path, len(path))
		for j, pt := range path {
			out[i][j] = geom.Point{X: pt.X + dx, Y: pt.Y}
		}
	}
	return out
}

// Polygon converts a ring to a ctessum/geom polygon.
func Polygon(ring []domain.Point) geom.Polygon {
	path := make([]geom.Point, len(ring))
	for i, p := range ring {
		path[i] = geom.Point{X: p.Lon, Y: p.Lat}
	}
	return geom.Polygon{path}
}

// Contains reports whether p lies inside or on the boundary of a convex
// counter-clockwise ring.
func Contains(ring []domain.Point, p domain.Point) bool {
	if len(ring) < 4 {
		return false
	}
	const eps = 1e-12
	p.Lon = UnwrapLon(p.Lon, ring[0].Lon)
	for i := 0; i+1 < len(ring); i++ {
		if cross(ring[i], ring[i+1], p) < -eps {
			return false
		}
	}
	return true
}

// WKT renders a ring as a POLYGON well-known-text string.
func WKT(ring []domain.Point) string {
	if len(ring) == 0 {
		return "POLYGON EMPTY"
	}
	// Encode only fails on unsupported geometry types.
	b, _ := wkt.Encode(Polygon(ring))
	return string(b)
}

// EncodeGeoJSON renders g as a GeoJSON geometry object.
func EncodeGeoJSON(g geom.Geom) (string, error) {
	b, err := geojson.Encode(g)
	if err != nil {
		return "", fmt.Errorf("encode geojson: %w", err)
	}
	return string(b), nil
}

// DecodeGeoJSON parses a GeoJSON geometry object.
func DecodeGeoJSON(doc string) (geom.Geom, error) {
	g, err := geojson.Decode([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("decode geojson: %w: %w", domain.ErrInvalidInput, err)
	}
	return g, nil
}

// DecodeRing parses a GeoJSON Polygon and returns its outer ring.
func DecodeRing(doc string) ([]domain.Point, error) {
	g, err := DecodeGeoJSON(doc)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("geometry is %T, not a polygon: %w", g, domain.ErrInvalidInput)
	}
	if len(poly) == 0 || len(poly[0]) == 0 {
		return nil, nil
	}
	ring := make([]domain.Point, len(poly[0]))
	for i, pt := range poly[0] {
		ring[i] = domain.Point{Lon: pt.X, Lat: pt.Y}
	}
	return ring, nil
}
