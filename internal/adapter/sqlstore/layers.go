package sqlstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
)

// PutGrid stores every band of one imported tile of tag, replacing
// earlier rows for the same tile and band.
func (s *Store) PutGrid(ctx context.Context, tag, tile string, g *spatial.Grid) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("grid %s %s: %w", tag, tile, err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(`
			INSERT INTO layer_grids (tag, tile, band, x0, y0, dx, dy, nx, ny, nodata, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tag, tile, band) DO UPDATE SET
				x0 = excluded.x0, y0 = excluded.y0, dx = excluded.dx, dy = excluded.dy,
				nx = excluded.nx, ny = excluded.ny, nodata = excluded.nodata, data = excluded.data`))
		if err != nil {
			return dbError(err)
		}
		defer stmt.Close()
		for band, values := range g.Bands {
			_, err := stmt.ExecContext(ctx, tag, tile, band, g.X0, g.Y0, g.DX, g.DY, g.NX, g.NY, g.NoData, encodeBand(values))
			if err != nil {
				return fmt.Errorf("put grid %s %s %s: %w", tag, tile, band, dbError(err))
			}
		}
		return nil
	})
}

// PutRegions replaces the polygon layer tag.
func (s *Store) PutRegions(ctx context.Context, tag string, regions []*spatial.Region) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM layer_regions WHERE tag = ?"), tag); err != nil {
			return dbError(err)
		}
		stmt, err := tx.PrepareContext(ctx, s.rebind(
			"INSERT INTO layer_regions (tag, region_id, geojson) VALUES (?, ?, ?)"))
		if err != nil {
			return dbError(err)
		}
		defer stmt.Close()
		for _, r := range regions {
			doc, err := spatial.EncodeGeoJSON(r.Polygonal)
			if err != nil {
				return fmt.Errorf("region %s: %w", r.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, tag, r.ID, doc); err != nil {
				return fmt.Errorf("put region %s %s: %w", tag, r.ID, dbError(err))
			}
		}
		return nil
	})
}

// LoadLayer returns the data of tag as a *spatial.Mosaic when it holds grid
// tiles or a *spatial.Regions when it holds polygons. A tag with neither is
// ErrNotFound.
func (s *Store) LoadLayer(ctx context.Context, tag string) (spatial.Layer, error) {
	grids, err := s.loadGrids(ctx, tag)
	if err != nil {
		return nil, err
	}
	if len(grids) > 0 {
		return spatial.NewMosaic(grids...)
	}

	regions, err := s.loadRegions(ctx, tag)
	if err != nil {
		return nil, err
	}
	if len(regions) > 0 {
		return spatial.NewRegions(regions), nil
	}
	return nil, fmt.Errorf("layer %s: %w", tag, domain.ErrNotFound)
}

func (s *Store) loadGrids(ctx context.Context, tag string) ([]*spatial.Grid, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT tile, band, x0, y0, dx, dy, nx, ny, nodata, data
		FROM layer_grids WHERE tag = ? ORDER BY tile, band`), tag)
	if err != nil {
		return nil, fmt.Errorf("load grids %s: %w", tag, dbError(err))
	}
	defer rows.Close()

	var (
		grids []*spatial.Grid
		last  string
	)
	for rows.Next() {
		var (
			tile, band string
			g          spatial.Grid
			data       []byte
		)
		if err := rows.Scan(&tile, &band, &g.X0, &g.Y0, &g.DX, &g.DY, &g.NX, &g.NY, &g.NoData, &data); err != nil {
			return nil, fmt.Errorf("scan grid: %w", err)
		}
		if len(grids) == 0 || tile != last {
			g.Bands = make(map[string][]float64)
			grids = append(grids, &g)
			last = tile
		}
		grids[len(grids)-1].Bands[band] = decodeBand(data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load grids %s: %w", tag, dbError(err))
	}
	return grids, nil
}

func (s *Store) loadRegions(ctx context.Context, tag string) ([]*spatial.Region, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT region_id, geojson FROM layer_regions WHERE tag = ? ORDER BY region_id"), tag)
	if err != nil {
		return nil, fmt.Errorf("load regions %s: %w", tag, dbError(err))
	}
	defer rows.Close()

	var out []*spatial.Region
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		poly, err := decodeRegion(doc)
		if err != nil {
			return nil, fmt.Errorf("region %s %s: %w", tag, id, err)
		}
		out = append(out, &spatial.Region{Polygonal: poly, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load regions %s: %w", tag, dbError(err))
	}
	return out, nil
}

// Bands are stored as little-endian float32, the resolution of the source
// products.
func encodeBand(values []float64) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
	}
	return buf
}

func decodeBand(buf []byte) []float64 {
	out := make([]float64, len(buf)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
	}
	return out
}

func decodeRegion(doc string) (geom.Polygonal, error) {
	g, err := spatial.DecodeGeoJSON(doc)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("geometry is %T, not polygonal: %w", g, domain.ErrInvalidInput)
	}
	return poly, nil
}
