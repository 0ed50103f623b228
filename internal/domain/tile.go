package domain

import (
	"fmt"
	"time"
)

// TileID identifies one cell of the global tile grid.
type TileID struct {
	H int `json:"h"`
	V int `json:"v"`
}

// String renders the id the way MODIS filenames do, e.g. "h08v05".
func (id TileID) String() string {
	return fmt.Sprintf("h%02dv%02d", id.H, id.V)
}

// Less orders tile ids row-major (v, then h).
func (id TileID) Less(other TileID) bool {
	if id.V != other.V {
		return id.V < other.V
	}
	return id.H < other.H
}

// ParseTileID parses the "hHHvVV" form.
func ParseTileID(s string) (TileID, error) {
	var id TileID
	if _, err := fmt.Sscanf(s, "h%02dv%02d", &id.H, &id.V); err != nil {
		return TileID{}, fmt.Errorf("parse tile id %q: %w", s, ErrInvalidInput)
	}
	return id, nil
}

// Point is a WGS-84 coordinate in degrees.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Extent is a geographic bounding box, optionally refined by a polygon ring.
// MinLon > MaxLon means the box crosses the antimeridian.
type Extent struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`

	// Polygon, when set, restricts the extent to the area inside the ring.
	Polygon []Point `json:"polygon,omitempty"`
}

// CrossesAntimeridian reports whether the box wraps past 180°.
func (e Extent) CrossesAntimeridian() bool {
	return e.MinLon > e.MaxLon
}

// Degenerate reports whether the extent has no area.
func (e Extent) Degenerate() bool {
	if e.MinLat >= e.MaxLat {
		return true
	}
	return e.MinLon == e.MaxLon
}

// Tile is a grid cell of one dataset. Its existence in the store is the only
// mutable fact tracked about it.
type Tile struct {
	ID     TileID    `json:"id"`
	Tag    string    `json:"tag"`
	Bounds Extent    `json:"bounds"`
	Date   time.Time `json:"date"`
}
