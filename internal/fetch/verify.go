package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"golang.org/x/sync/errgroup"
)

var (
	hdf4Magic = []byte{0x0e, 0x03, 0x13, 0x01}
	hdf5Magic = []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'}
)

// VerifyAndRepair checks every staged file against its sidecar. A file that
// fails is deleted and downloaded once more; failing again is reported as a
// permanent failure and the staged copy is removed. There is never a third
// download within one call.
func (m *Manager) VerifyAndRepair(ctx context.Context) (Report, error) {
	staged, unmanaged, err := m.scan()
	if err != nil {
		return Report{}, err
	}

	results := make([]TileResult, len(staged))
	g := new(errgroup.Group)
	g.SetLimit(m.workers)
	for i, res := range staged {
		g.Go(func() error {
			results[i] = m.verifyTile(ctx, res)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results, Unmanaged: unmanaged}
	sortResults(report.Results)
	return report, stageError(report)
}

func (m *Manager) verifyTile(ctx context.Context, res domain.Resource) TileResult {
	result := TileResult{Tag: res.Tag, Tile: res.Tile, Path: m.path(res)}

	err := verifyFile(result.Path, res)
	if err == nil {
		result.Status = StatusVerified
		return result
	}
	m.metrics.VerifyFailures.WithLabelValues(res.Tag).Inc()
	m.logger.Warn("staged tile failed verification, re-downloading",
		"tag", res.Tag, "tile", res.Tile.String(), "error", err)

	if rmErr := os.Remove(result.Path); rmErr != nil && !os.IsNotExist(rmErr) {
		m.logger.Warn("remove corrupt tile failed", "path", result.Path, "error", rmErr)
	}

	result.Downloads++
	if err := m.download(ctx, res); err != nil {
		m.removeStaged(res)
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	if err := verifyFile(result.Path, res); err != nil {
		m.metrics.VerifyFailures.WithLabelValues(res.Tag).Inc()
		m.logger.Error("staged tile failed verification twice",
			"tag", res.Tag, "tile", res.Tile.String(), "error", err)
		m.removeStaged(res)
		result.Status = StatusFailed
		result.Err = err
		return result
	}
	result.Status = StatusRepaired
	return result
}

// scan lists sidecar resources and unmanaged files, deleting leftover
// partial downloads.
func (m *Manager) scan() ([]domain.Resource, []string, error) {
	tagDirs, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read staging dir: %w", err)
	}

	var staged []domain.Resource
	var unmanaged []string
	for _, td := range tagDirs {
		if !td.IsDir() {
			continue
		}
		tag := td.Name()
		entries, err := os.ReadDir(filepath.Join(m.dir, tag))
		if err != nil {
			return nil, nil, fmt.Errorf("read staging dir %s: %w", tag, err)
		}

		managed := make(map[string]bool)
		for _, e := range entries {
			id, ok := sidecarTile(e.Name())
			if !ok {
				continue
			}
			res, ok := m.readSidecar(tag, id)
			if !ok {
				continue
			}
			managed[e.Name()] = true
			managed[filepath.Base(res.Name)] = true
			staged = append(staged, res)
		}

		for _, e := range entries {
			name := e.Name()
			switch {
			case e.IsDir(), managed[name]:
			case strings.HasSuffix(name, ".part"):
				_ = os.Remove(filepath.Join(m.dir, tag, name))
			default:
				unmanaged = append(unmanaged, filepath.Join(m.dir, tag, name))
			}
		}
	}
	sort.Strings(unmanaged)
	return staged, unmanaged, nil
}

func sidecarTile(name string) (domain.TileID, bool) {
	stem, ok := strings.CutSuffix(name, ".json")
	if !ok {
		return domain.TileID{}, false
	}
	id, err := domain.ParseTileID(stem)
	if err != nil || id.String() != stem {
		return domain.TileID{}, false
	}
	return id, true
}

// verifyFile checks size, SHA-256 and, for HDF granules, the format signature.
func verifyFile(path string, res domain.Resource) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), domain.ErrIntegrity)
	}
	defer f.Close()

	if err := checkMagic(f, path); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", filepath.Base(path), err)
	}

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), domain.ErrIntegrity)
	}
	if res.Size > 0 && n != res.Size {
		return fmt.Errorf("%s: size %d, want %d: %w", filepath.Base(path), n, res.Size, domain.ErrIntegrity)
	}
	if res.SHA256 != "" {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, res.SHA256) {
			return fmt.Errorf("%s: checksum %s, want %s: %w", filepath.Base(path), sum, res.SHA256, domain.ErrIntegrity)
		}
	}
	return nil
}

func checkMagic(r io.Reader, path string) error {
	var want []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hdf":
		want = hdf4Magic
	case ".h5", ".he5":
		want = hdf5Magic
	default:
		return nil
	}
	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil || !bytes.Equal(got, want) {
		return fmt.Errorf("%s: not an HDF file: %w", filepath.Base(path), domain.ErrIntegrity)
	}
	return nil
}
