// Package export writes attributed fire events to local files.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
)

// CSV writes one <dir>/<tag>.csv per dataset, replacing any earlier export.
// It implements pipeline.Exporter.
type CSV struct {
	dir     string
	columns []string
	logger  *slog.Logger
}

// NewCSV creates a CSV exporter whose header follows the layer order.
func NewCSV(dir string, layers []domain.LayerConfig, logger *slog.Logger) *CSV {
	return &CSV{dir: dir, columns: join.Columns(layers), logger: logger}
}

// Path returns the file the records of tag are written to.
func (c *CSV) Path(tag string) string {
	return filepath.Join(c.dir, tag+".csv")
}

// Export writes the header and every record. Readers never see a partial
// file: rows go to a temporary file that is renamed into place.
func (c *CSV) Export(ctx context.Context, tag string, records []join.OutputRecord) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, "."+tag+".*.csv")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.Write(c.columns); err != nil {
		tmp.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		row := r.Row()
		if len(row) != len(c.columns) {
			tmp.Close()
			return fmt.Errorf("record %s has %d columns, want %d: %w", r.EventID, len(row), len(c.columns), domain.ErrConfig)
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write record %s: %w", r.EventID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush %s: %w", tag, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tag, err)
	}
	if err := os.Rename(tmp.Name(), c.Path(tag)); err != nil {
		return fmt.Errorf("publish %s: %w", tag, err)
	}
	c.logger.Info("records exported", "dataset", tag, "records", len(records), "path", c.Path(tag))
	return nil
}
