// Package fetch downloads missing raster tiles into a local staging directory
// and keeps that directory verified.
//
// Layout: <dir>/<tag>/<granule file> next to a sidecar <dir>/<tag>/<hXXvYY>.json
// holding the resolved archive resource. A tile with both files staged is not
// fetched again; VerifyAndRepair owns re-downloading corrupt files.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Archive resolves tiles to remote files and streams them.
type Archive interface {
	Resolve(ctx context.Context, tag string, id domain.TileID, date time.Time) (domain.Resource, error)
	Download(ctx context.Context, res domain.Resource, w io.Writer) error
}

// Status is the per-tile outcome of a fetch or verification pass.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusPresent    Status = "present"
	StatusVerified   Status = "verified"
	StatusRepaired   Status = "repaired"
	StatusFailed     Status = "failed"
)

// TileResult records what happened to one tile.
type TileResult struct {
	Tag       string
	Tile      domain.TileID
	Path      string
	Status    Status
	Downloads int
	Err       error
}

// Report is the outcome of Fetch or VerifyAndRepair.
type Report struct {
	Results []TileResult

	// Unmanaged lists staged files without a sidecar; they are left alone.
	Unmanaged []string
}

// Failed returns the results that ended in failure.
func (r Report) Failed() []TileResult {
	var out []TileResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Downloads returns the total number of downloads performed.
func (r Report) Downloads() int {
	n := 0
	for _, res := range r.Results {
		n += res.Downloads
	}
	return n
}

// Paths returns the staged file paths of non-failed results for tag.
func (r Report) Paths(tag string) []string {
	var out []string
	for _, res := range r.Results {
		if res.Tag == tag && res.Status != StatusFailed {
			out = append(out, res.Path)
		}
	}
	return out
}

// Manager fetches and verifies staged tiles.
type Manager struct {
	archive Archive
	dir     string
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewManager creates a Manager staging into dir with up to workers parallel
// transfers.
func NewManager(archive Archive, dir string, workers int, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		archive: archive,
		dir:     dir,
		workers: workers,
		logger:  logger,
		metrics: metrics,
	}
}

// Dir returns the staging directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Fetch stages every tile in missing. Tiles already staged cost no network
// I/O. A tile the archive does not have fails alone; an unreachable archive
// fails the whole call once in-flight transfers finish.
func (m *Manager) Fetch(ctx context.Context, missing []domain.Tile) (Report, error) {
	results := make([]TileResult, len(missing))

	g := new(errgroup.Group)
	g.SetLimit(m.workers)
	for i, tile := range missing {
		g.Go(func() error {
			results[i] = m.fetchTile(ctx, tile)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	sortResults(report.Results)
	return report, stageError(report)
}

func (m *Manager) fetchTile(ctx context.Context, tile domain.Tile) TileResult {
	result := TileResult{Tag: tile.Tag, Tile: tile.ID}

	if res, ok := m.readSidecar(tile.Tag, tile.ID); ok {
		path := m.path(res)
		if _, err := os.Stat(path); err == nil {
			result.Path = path
			result.Status = StatusPresent
			return result
		}
	}

	res, err := m.archive.Resolve(ctx, tile.Tag, tile.ID, tile.Date)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("resolve %s %s: %w", tile.Tag, tile.ID, err)
		m.logger.Warn("tile resolve failed", "tag", tile.Tag, "tile", tile.ID.String(), "error", err)
		return result
	}

	result.Path = m.path(res)
	result.Downloads++
	if err := m.download(ctx, res); err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	result.Status = StatusDownloaded
	return result
}

// download streams res into place and then writes its sidecar.
func (m *Manager) download(ctx context.Context, res domain.Resource) error {
	dst := m.path(res)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(res.Name)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	err = m.archive.Download(ctx, res, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.metrics.TileDownloads.WithLabelValues(res.Tag, "error").Inc()
		m.logger.Warn("tile download failed", "tag", res.Tag, "tile", res.Tile.String(), "error", err)
		return fmt.Errorf("download %s: %w", res.Name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("stage %s: %w", res.Name, err)
	}
	if err := m.writeSidecar(res); err != nil {
		return err
	}

	m.metrics.TileDownloads.WithLabelValues(res.Tag, "success").Inc()
	m.logger.Info("tile downloaded", "tag", res.Tag, "tile", res.Tile.String(), "file", res.Name)
	return nil
}

func (m *Manager) path(res domain.Resource) string {
	return filepath.Join(m.dir, res.Tag, filepath.Base(res.Name))
}

func (m *Manager) sidecarPath(tag string, id domain.TileID) string {
	return filepath.Join(m.dir, tag, id.String()+".json")
}

func (m *Manager) readSidecar(tag string, id domain.TileID) (domain.Resource, bool) {
	data, err := os.ReadFile(m.sidecarPath(tag, id))
	if err != nil {
		return domain.Resource{}, false
	}
	var res domain.Resource
	if err := json.Unmarshal(data, &res); err != nil || res.Name == "" {
		return domain.Resource{}, false
	}
	return res, true
}

func (m *Manager) writeSidecar(res domain.Resource) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	path := m.sidecarPath(res.Tag, res.Tile)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func (m *Manager) removeStaged(res domain.Resource) {
	for _, p := range []string{m.path(res), m.sidecarPath(res.Tag, res.Tile)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("remove staged file failed", "path", p, "error", err)
		}
	}
}

func sortResults(results []TileResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Tag != results[j].Tag {
			return results[i].Tag < results[j].Tag
		}
		return results[i].Tile.Less(results[j].Tile)
	})
}

// stageError returns the first connectivity error among results; per-tile
// absences and integrity failures are not stage errors.
func stageError(r Report) error {
	for _, res := range r.Results {
		if res.Err != nil && errors.Is(res.Err, domain.ErrUnavailable) {
			return fmt.Errorf("archive unavailable: %w", res.Err)
		}
	}
	return nil
}
