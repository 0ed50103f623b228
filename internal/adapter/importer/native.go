package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/finn-preprocessor/internal/adapter/shapefile"
	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
)

var nan = math.NaN()

func zeroIfNaN(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return f
}

// Store receives natively imported datasets.
type Store interface {
	SaveDetections(ctx context.Context, dataset string, detections []domain.FireDetection) error
	PutRegions(ctx context.Context, tag string, regions []*spatial.Region) error
}

// TileImporter imports staged raster files.
type TileImporter interface {
	ImportTiles(ctx context.Context, tag string, paths []string) error
}

// Native imports FIRMS point files and region shapefiles directly into the
// store and hands raster tiles to an external TileImporter.
type Native struct {
	store   Store
	tiles   TileImporter
	regions map[string]string // region layer tag -> id column
	logger  *slog.Logger
}

// NewNative creates a Native importer. regions maps each polygon layer tag
// to its id attribute column; tiles may be nil when no raster importer is
// configured.
func NewNative(store Store, tiles TileImporter, regions map[string]string, logger *slog.Logger) *Native {
	return &Native{store: store, tiles: tiles, regions: regions, logger: logger}
}

// ImportTiles delegates to the raster importer.
func (n *Native) ImportTiles(ctx context.Context, tag string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if n.tiles == nil {
		return fmt.Errorf("import %s: no raster import command configured: %w", tag, domain.ErrConfig)
	}
	return n.tiles.ImportTiles(ctx, tag, paths)
}

// ImportDataset loads a region layer or a FIRMS detection file under tag.
func (n *Native) ImportDataset(ctx context.Context, tag, source string) error {
	if idColumn, ok := n.regions[tag]; ok {
		regions, err := shapefile.LoadRegions(source, idColumn)
		if err != nil {
			return fmt.Errorf("import %s: %w", tag, err)
		}
		if err := n.store.PutRegions(ctx, tag, regions); err != nil {
			return fmt.Errorf("import %s: %w", tag, err)
		}
		n.logger.Info("region layer imported", "tag", tag, "regions", len(regions))
		return nil
	}

	detections, err := ReadDetections(source, tag)
	if err != nil {
		return fmt.Errorf("import %s: %w", tag, err)
	}
	if len(detections) == 0 {
		return fmt.Errorf("import %s: %s has no detections: %w", tag, source, domain.ErrInvalidInput)
	}
	if err := n.store.SaveDetections(ctx, tag, detections); err != nil {
		return fmt.Errorf("import %s: %w", tag, err)
	}
	n.logger.Info("fire dataset imported", "tag", tag, "detections", len(detections))
	return nil
}
