// Package shapefile reads ESRI shapefiles: region polygon layers and
// active-fire point files.
package shapefile

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
)

// LoadRegions reads every polygon of path, keyed by the idColumn attribute.
// Records sharing an id are parts of one region and are merged into a
// multipolygon, in file order. Regions are returned in order of first
// appearance. Coordinates must already be geographic lon/lat.
func LoadRegions(path, idColumn string) ([]*spatial.Region, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrInvalidInput)
	}
	defer dec.Close()

	var (
		regions []*spatial.Region
		parts   = make(map[string]geom.MultiPolygon)
	)
	for row := 0; ; row++ {
		g, fields, more := dec.DecodeRowFields(idColumn)
		if !more {
			break
		}
		id, ok := fields[idColumn]
		if !ok {
			return nil, fmt.Errorf("%s: missing attribute column %s: %w", path, idColumn, domain.ErrInvalidInput)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("%s row %d: region shapes need to be polygons: %w", path, row, domain.ErrInvalidInput)
		}
		id = clean(id)
		if _, seen := parts[id]; !seen {
			regions = append(regions, &spatial.Region{ID: id})
		}
		parts[id] = append(parts[id], poly.Polygons()...)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, domain.ErrInvalidInput, err)
	}
	for _, r := range regions {
		if p := parts[r.ID]; len(p) == 1 {
			r.Polygonal = p[0]
		} else {
			r.Polygonal = p
		}
	}
	return regions, nil
}

// Point is one row of a point shapefile.
type Point struct {
	Lon, Lat float64
	Fields   map[string]string
}

// LoadPoints reads every point of path with the requested attribute
// columns.
func LoadPoints(path string, columns ...string) ([]Point, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrInvalidInput)
	}
	defer dec.Close()

	var points []Point
	for row := 0; ; row++ {
		g, fields, more := dec.DecodeRowFields(columns...)
		if !more {
			break
		}
		var pt geom.Point
		switch t := g.(type) {
		case geom.Point:
			pt = t
		case *geom.Point:
			pt = *t
		default:
			return nil, fmt.Errorf("%s row %d: expected point geometry: %w", path, row, domain.ErrInvalidInput)
		}
		for k, v := range fields {
			fields[k] = clean(v)
		}
		points = append(points, Point{Lon: pt.X, Lat: pt.Y, Fields: fields})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, domain.ErrInvalidInput, err)
	}
	return points, nil
}

// dBase pads text fields with spaces and NULs.
func clean(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00")
}
