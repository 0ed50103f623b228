package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// TileExists reports whether a tile of tag has been imported.
func (s *Store) TileExists(ctx context.Context, tag string, id domain.TileID) (bool, error) {
	ok, err := s.exists(ctx, "SELECT 1 FROM raster_tiles WHERE tag = ? AND h = ? AND v = ?", tag, id.H, id.V)
	if err != nil {
		return false, fmt.Errorf("tile %s %s: %w", tag, id, err)
	}
	return ok, nil
}

// DatasetExists reports whether a non-tiled dataset has been imported.
func (s *Store) DatasetExists(ctx context.Context, tag string) (bool, error) {
	ok, err := s.exists(ctx, "SELECT 1 FROM datasets WHERE tag = ?", tag)
	if err != nil {
		return false, fmt.Errorf("dataset %s: %w", tag, err)
	}
	return ok, nil
}

// RegisterTiles records tiles of tag as imported. Registering a tile twice
// is a no-op.
func (s *Store) RegisterTiles(ctx context.Context, tag string, ids []domain.TileID) error {
	now := domain.Now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(
			"INSERT INTO raster_tiles (tag, h, v, imported_at) VALUES (?, ?, ?, ?) ON CONFLICT (tag, h, v) DO NOTHING"))
		if err != nil {
			return dbError(err)
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, tag, id.H, id.V, now); err != nil {
				return fmt.Errorf("register tile %s %s: %w", tag, id, dbError(err))
			}
		}
		return nil
	})
}

// RegisterDataset records a non-tiled dataset as imported.
func (s *Store) RegisterDataset(ctx context.Context, tag string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO datasets (tag, imported_at) VALUES (?, ?) ON CONFLICT (tag) DO NOTHING"), tag, domain.Now())
	if err != nil {
		return fmt.Errorf("register dataset %s: %w", tag, dbError(err))
	}
	return nil
}
