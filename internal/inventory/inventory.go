// Package inventory decides which tiles an extent needs and which of them the
// store already holds.
package inventory

import (
	"context"
	"fmt"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/tilegrid"
)

// Store answers presence queries. A tile is present only once imported;
// downloaded-but-not-imported tiles are absent.
type Store interface {
	TileExists(ctx context.Context, tag string, id domain.TileID) (bool, error)
	DatasetExists(ctx context.Context, tag string) (bool, error)
}

// Resolver computes tile needs. It only reads from the store.
type Resolver struct {
	grid  tilegrid.Grid
	store Store
}

// NewResolver creates a Resolver over grid and store.
func NewResolver(grid tilegrid.Grid, store Store) *Resolver {
	return &Resolver{grid: grid, store: store}
}

// Resolve returns required, present and missing tiles per tag for extent.
// Any store error aborts resolution; an unreachable store is never reported
// as missing tiles.
func (r *Resolver) Resolve(ctx context.Context, extent domain.Extent, tags []string) (domain.TileNeedReport, error) {
	required := r.grid.TilesCovering(extent)
	report := domain.TileNeedReport{
		Extent: extent,
		ByTag:  make(map[string]domain.TagNeed, len(tags)),
	}

	for _, tag := range tags {
		need := domain.TagNeed{
			Required: append([]domain.TileID(nil), required...),
			Present:  []domain.TileID{},
			Missing:  []domain.TileID{},
		}
		for _, id := range required {
			ok, err := r.store.TileExists(ctx, tag, id)
			if err != nil {
				return domain.TileNeedReport{}, fmt.Errorf("resolve %s %s: %w", tag, id, err)
			}
			if ok {
				need.Present = append(need.Present, id)
			} else {
				need.Missing = append(need.Missing, id)
			}
		}
		report.ByTag[tag] = need
	}
	return report, nil
}

// DatasetExists reports whether a non-tiled dataset has been imported.
func (r *Resolver) DatasetExists(ctx context.Context, tag string) (bool, error) {
	ok, err := r.store.DatasetExists(ctx, tag)
	if err != nil {
		return false, fmt.Errorf("dataset %s: %w", tag, err)
	}
	return ok, nil
}
