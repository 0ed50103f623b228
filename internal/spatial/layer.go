package spatial

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// Layer is a loaded attribute layer: a *Grid, a *Mosaic or a *Regions.
type Layer interface {
	Bounds() *geom.Bounds
}

// Grid is a north-up raster in geographic coordinates. Row 0 is the northern
// edge; cell (col,row) spans [X0+col*DX, X0+(col+1)*DX] by
// [Y0-(row+1)*DY, Y0-row*DY]. Each band holds NX*NY values row-major.
type Grid struct {
	X0, Y0 float64
	DX, DY float64
	NX, NY int
	NoData float64
	Bands  map[string][]float64
}

// Validate checks the grid dimensions against every band.
func (g *Grid) Validate() error {
	if g.DX <= 0 || g.DY <= 0 || g.NX <= 0 || g.NY <= 0 {
		return fmt.Errorf("grid has empty dimensions: %w", domain.ErrInvalidInput)
	}
	for name, band := range g.Bands {
		if len(band) != g.NX*g.NY {
			return fmt.Errorf("grid band %s has %d values, want %d: %w", name, len(band), g.NX*g.NY, domain.ErrInvalidInput)
		}
	}
	return nil
}

// Bounds returns the full extent of the grid.
func (g *Grid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.X0, Y: g.Y0 - float64(g.NY)*g.DY},
		Max: geom.Point{X: g.X0 + float64(g.NX)*g.DX, Y: g.Y0},
	}
}

// CellBounds returns the extent of one cell.
func (g *Grid) CellBounds(col, row int) *geom.Bounds {
	x := g.X0 + float64(col)*g.DX
	y := g.Y0 - float64(row)*g.DY
	return &geom.Bounds{
		Min: geom.Point{X: x, Y: y - g.DY},
		Max: geom.Point{X: x + g.DX, Y: y},
	}
}

// CellRange returns the inclusive column and row ranges of cells that
// intersect b, clipped to the grid. ok is false when b misses the grid.
func (g *Grid) CellRange(b *geom.Bounds) (c0, c1, r0, r1 int, ok bool) {
	if !g.Bounds().Overlaps(b) {
		return 0, 0, 0, 0, false
	}
	c0 = clamp(int(math.Floor((b.Min.X-g.X0)/g.DX)), 0, g.NX-1)
	c1 = clamp(int(math.Floor((b.Max.X-g.X0)/g.DX)), 0, g.NX-1)
	r0 = clamp(int(math.Floor((g.Y0-b.Max.Y)/g.DY)), 0, g.NY-1)
	r1 = clamp(int(math.Floor((g.Y0-b.Min.Y)/g.DY)), 0, g.NY-1)
	return c0, c1, r0, r1, true
}

// Value returns the band value at a cell, or false for nodata.
func (g *Grid) Value(band string, col, row int) (float64, bool) {
	values, ok := g.Bands[band]
	if !ok {
		return 0, false
	}
	v := values[row*g.NX+col]
	if math.IsNaN(v) || v == g.NoData {
		return 0, false
	}
	return v, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mosaic is a tiled raster layer: non-overlapping grids sharing band names.
type Mosaic struct {
	Grids []*Grid
}

// NewMosaic wraps grids, validating each.
func NewMosaic(grids ...*Grid) (*Mosaic, error) {
	for _, g := range grids {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	return &Mosaic{Grids: grids}, nil
}

// Bounds returns the extent of all tiles.
func (m *Mosaic) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, g := range m.Grids {
		b.Extend(g.Bounds())
	}
	return b
}

// HasBand reports whether every tile carries band.
func (m *Mosaic) HasBand(band string) bool {
	for _, g := range m.Grids {
		if _, ok := g.Bands[band]; !ok {
			return false
		}
	}
	return len(m.Grids) > 0
}

// Region is one polygon of a region layer.
type Region struct {
	geom.Polygonal
	ID string
}

// Regions is a polygon layer indexed by an R-tree.
type Regions struct {
	tree    *rtree.Rtree
	regions []*Region
	bounds  *geom.Bounds
}

// NewRegions indexes regions for bounding-box search.
func NewRegions(regions []*Region) *Regions {
	r := &Regions{
		tree:    rtree.NewTree(25, 50),
		regions: regions,
		bounds:  geom.NewBounds(),
	}
	for _, reg := range regions {
		r.tree.Insert(reg)
		r.bounds.Extend(reg.Bounds())
	}
	return r
}

// Bounds returns the extent of all regions.
func (r *Regions) Bounds() *geom.Bounds {
	return r.bounds
}

// Len returns the number of regions.
func (r *Regions) Len() int {
	return len(r.regions)
}

// Search returns regions whose bounding box intersects b, ordered by id.
func (r *Regions) Search(b *geom.Bounds) []*Region {
	hits := r.tree.SearchIntersect(b)
	out := make([]*Region, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.(*Region))
	}
	sort.Slice(out, func(i, j int) bool { return LessID(out[i].ID, out[j].ID) })
	return out
}

// LessID orders identifiers numerically when both parse as numbers and
// lexically otherwise.
func LessID(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil && fa != fb {
		return fa < fb
	}
	return a < b
}
