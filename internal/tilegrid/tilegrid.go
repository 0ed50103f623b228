// Package tilegrid maps geographic extents to the tiles of a fixed global grid.
package tilegrid

import (
	"math"
	"sort"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
)

// Grid is a global tiling of square cells. Column h counts east from -180°,
// row v counts south from +90°. On a sinusoidal grid columns are counted in
// projected x = lon·cos(lat), in degrees, as MODIS land products are.
type Grid struct {
	TileDeg    float64
	Cols       int
	Rows       int
	Sinusoidal bool
}

// MODIS returns the 36x18 sinusoidal grid of 10° tiles used to index MODIS
// land products.
func MODIS() Grid {
	g := New(10)
	g.Sinusoidal = true
	return g
}

// New returns a plain lon/lat grid of tileDeg-sized cells. tileDeg must
// divide 180.
func New(tileDeg float64) Grid {
	return Grid{
		TileDeg: tileDeg,
		Cols:    int(math.Round(360 / tileDeg)),
		Rows:    int(math.Round(180 / tileDeg)),
	}
}

// TileOf returns the tile holding a point.
func (g Grid) TileOf(p domain.Point) domain.TileID {
	x := p.Lon
	if g.Sinusoidal {
		x = project(p).X
	}
	return domain.TileID{H: g.col(x), V: g.row(p.Lat)}
}

// TileBounds returns the geographic extent of a tile. For a sinusoidal tile
// this is the lon/lat bounding box of the back-projected tile, clamped to the
// globe.
func (g Grid) TileBounds(id domain.TileID) domain.Extent {
	minX := -180 + float64(id.H)*g.TileDeg
	maxX := minX + g.TileDeg
	maxLat := 90 - float64(id.V)*g.TileDeg
	minLat := maxLat - g.TileDeg
	if !g.Sinusoidal {
		return domain.Extent{MinLon: minX, MinLat: minLat, MaxLon: maxX, MaxLat: maxLat}
	}
	nearCos, farCos := cosRange(minLat, maxLat)
	return domain.Extent{
		MinLon: unproject(minX, pick(minX < 0, farCos, nearCos)),
		MinLat: minLat,
		MaxLon: unproject(maxX, pick(maxX > 0, farCos, nearCos)),
		MaxLat: maxLat,
	}
}

// TilesCovering returns every tile whose bounds intersect the extent, sorted
// row-major. Extents crossing the antimeridian are split in two; latitudes are
// clamped at the poles. A degenerate extent covers nothing.
func (g Grid) TilesCovering(e domain.Extent) []domain.TileID {
	if e.Degenerate() {
		return nil
	}
	e.MinLat = math.Max(e.MinLat, -90)
	e.MaxLat = math.Min(e.MaxLat, 90)
	if e.MinLat >= e.MaxLat {
		return nil
	}

	parts := []domain.Extent{e}
	if e.CrossesAntimeridian() {
		west, east := e, e
		west.MaxLon = 180
		east.MinLon = -180
		parts = []domain.Extent{west, east}
	}

	var poly geom.Polygon
	if len(e.Polygon) >= 4 {
		poly = spatial.Polygon(e.Polygon)
		if g.Sinusoidal {
			poly = projectPolygon(poly)
		}
	}

	seen := make(map[domain.TileID]struct{})
	for _, part := range parts {
		part.MinLon = math.Max(part.MinLon, -180)
		part.MaxLon = math.Min(part.MaxLon, 180)
		if part.MinLon >= part.MaxLon {
			continue
		}
		v0, v1 := g.row(part.MaxLat), max(g.rowMax(part.MinLat), g.row(part.MaxLat))
		for v := v0; v <= v1; v++ {
			h0, h1 := g.colRange(part, v)
			for h := h0; h <= h1; h++ {
				id := domain.TileID{H: h, V: v}
				if poly != nil && !g.touchesPolygon(id, poly) {
					continue
				}
				seen[id] = struct{}{}
			}
		}
	}

	out := make([]domain.TileID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// colRange returns the columns of row v that the extent reaches. On a
// sinusoidal grid x is monotonic in lon and in |lat|, so the corners of the
// extent's slice of the row bound it.
func (g Grid) colRange(e domain.Extent, v int) (int, int) {
	minX, maxX := e.MinLon, e.MaxLon
	if g.Sinusoidal {
		top := 90 - float64(v)*g.TileDeg
		nearCos, farCos := cosRange(math.Max(e.MinLat, top-g.TileDeg), math.Min(e.MaxLat, top))
		minX *= pick(minX < 0, nearCos, farCos)
		maxX *= pick(maxX > 0, nearCos, farCos)
	}
	h0 := g.col(minX)
	return h0, max(g.colMax(maxX), h0)
}

func (g Grid) col(lon float64) int {
	h := int(math.Floor((lon + 180) / g.TileDeg))
	if h >= g.Cols {
		h = g.Cols - 1
	}
	return max(h, 0)
}

// colMax and rowMax treat the far edge as exclusive, so an extent ending
// exactly on a tile boundary does not pull in the neighbouring tile.
func (g Grid) colMax(lon float64) int {
	return min(int(math.Ceil((lon+180)/g.TileDeg))-1, g.Cols-1)
}

func (g Grid) rowMax(lat float64) int {
	return min(int(math.Ceil((90-lat)/g.TileDeg))-1, g.Rows-1)
}

func (g Grid) row(lat float64) int {
	v := int(math.Floor((90 - lat) / g.TileDeg))
	if v >= g.Rows {
		v = g.Rows - 1
	}
	return max(v, 0)
}

// touchesPolygon tests a tile against poly, both in the grid's own
// coordinates: lon/lat, or sinusoidal x and lat.
func (g Grid) touchesPolygon(id domain.TileID, poly geom.Polygon) bool {
	minX := -180 + float64(id.H)*g.TileDeg
	maxLat := 90 - float64(id.V)*g.TileDeg
	b := &geom.Bounds{
		Min: geom.Point{X: minX, Y: maxLat - g.TileDeg},
		Max: geom.Point{X: minX + g.TileDeg, Y: maxLat},
	}
	if isect := poly.Intersection(b); isect != nil && isect.Area() > 0 {
		return true
	}
	for _, ring := range poly {
		for _, p := range ring {
			if p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y {
				return true
			}
		}
	}
	return false
}

func project(p domain.Point) geom.Point {
	return geom.Point{X: p.Lon * math.Cos(p.Lat*math.Pi/180), Y: p.Lat}
}

func projectPolygon(poly geom.Polygon) geom.Polygon {
	out := make(geom.Polygon, len(poly))
	for i, ring := range poly {
		out[i] = make(geom.Path, len(ring))
		for j, p := range ring {
			out[i][j] = project(domain.Point{Lon: p.X, Lat: p.Y})
		}
	}
	return out
}

// cosRange returns the largest and smallest cos(lat) over [minLat, maxLat].
func cosRange(minLat, maxLat float64) (nearCos, farCos float64) {
	rad := math.Pi / 180
	far := math.Max(math.Abs(minLat), math.Abs(maxLat))
	near := 0.0
	if minLat > 0 || maxLat < 0 {
		near = math.Min(math.Abs(minLat), math.Abs(maxLat))
	}
	return math.Cos(near * rad), math.Max(math.Cos(far*rad), 0)
}

// unproject returns the longitude of sinusoidal x where cos(lat) is c,
// clamped to the globe.
func unproject(x, c float64) float64 {
	switch {
	case x == 0:
		return 0
	case c <= 0:
		return math.Copysign(180, x)
	}
	return math.Max(-180, math.Min(180, x/c))
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}

// ExtentOf returns the bounding box of a set of detections, ignoring invalid
// ones. ok is false when no valid detection remains.
func ExtentOf(detections []domain.FireDetection) (domain.Extent, bool) {
	e := domain.Extent{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	n := 0
	for _, d := range detections {
		if d.Validate() != nil {
			continue
		}
		e.MinLon = math.Min(e.MinLon, d.Lon)
		e.MaxLon = math.Max(e.MaxLon, d.Lon)
		e.MinLat = math.Min(e.MinLat, d.Lat)
		e.MaxLat = math.Max(e.MaxLat, d.Lat)
		n++
	}
	return e, n > 0
}

// Pad grows an extent by margin degrees on every side so that footprints
// near tile edges still cover their neighbours.
func Pad(e domain.Extent, margin float64) domain.Extent {
	e.MinLat = math.Max(e.MinLat-margin, -90)
	e.MaxLat = math.Min(e.MaxLat+margin, 90)

	width := e.MaxLon - e.MinLon
	if e.CrossesAntimeridian() {
		width += 360
	}
	if width+2*margin >= 360 {
		e.MinLon, e.MaxLon = -180, 180
		return e
	}
	e.MinLon = wrapLon(e.MinLon - margin)
	e.MaxLon = wrapLon(e.MaxLon + margin)
	return e
}

func wrapLon(lon float64) float64 {
	switch {
	case lon < -180:
		return lon + 360
	case lon > 180:
		return lon - 360
	}
	return lon
}
