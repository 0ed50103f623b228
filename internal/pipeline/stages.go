package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/fetch"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
	"github.com/couchcryptid/finn-preprocessor/internal/tilegrid"
)

// ensureDataset imports the fire dataset only when the store lacks it. An
// existing dataset is never re-imported.
func (d *Driver) ensureDataset(ctx context.Context, r *run) ([]string, error) {
	ok, err := d.c.Store.DatasetExists(ctx, r.tag)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, errSkipped
	}
	if r.source == "" {
		return nil, fmt.Errorf("dataset %s is not in the store and has no source file: %w", r.tag, domain.ErrConfig)
	}
	if err := d.c.Importer.ImportDataset(ctx, r.tag, r.source); err != nil {
		return nil, err
	}
	return nil, d.c.Store.RegisterDataset(ctx, r.tag)
}

func (d *Driver) load(ctx context.Context, r *run) ([]string, error) {
	detections, err := d.c.Store.LoadDetections(ctx, r.tag)
	if err != nil {
		return nil, err
	}
	r.detections = detections
	if extent, ok := tilegrid.ExtentOf(detections); ok {
		r.extent = tilegrid.Pad(extent, d.settings.PadDegrees)
	}
	return nil, nil
}

func (d *Driver) resolve(ctx context.Context, r *run) ([]string, error) {
	need, err := d.resolver.Resolve(ctx, r.extent, d.rasterTags())
	if err != nil {
		return nil, err
	}
	r.need = need
	for tag, n := range need.ByTag {
		d.metrics.TilesRequired.WithLabelValues(tag).Set(float64(len(n.Required)))
		d.metrics.TilesMissing.WithLabelValues(tag).Set(float64(len(n.Missing)))
	}

	r.missingRegions = nil
	for _, tag := range d.regionTags() {
		ok, err := d.resolver.DatasetExists(ctx, tag)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.missingRegions = append(r.missingRegions, tag)
		}
	}
	return nil, nil
}

// upToDate reports whether fetch and import have nothing to do.
func (r *run) upToDate() bool {
	return r.need.MissingCount() == 0 && len(r.missingRegions) == 0
}

// fetch stages missing tiles and verifies them. A tile that cannot be
// fetched or verified is skipped; an unreachable archive fails the stage.
func (d *Driver) fetch(ctx context.Context, r *run) ([]string, error) {
	if r.upToDate() {
		return nil, errSkipped
	}
	tiles, err := d.missingTiles(r.need)
	if err != nil {
		return nil, err
	}
	fetched, err := d.c.Fetcher.Fetch(ctx, tiles)
	if err != nil {
		return nil, err
	}
	verified, err := d.c.Fetcher.VerifyAndRepair(ctx)
	if err != nil {
		return nil, err
	}

	type key struct {
		tag string
		id  domain.TileID
	}
	final := make(map[key]fetch.TileResult, len(verified.Results))
	for _, res := range verified.Results {
		final[key{res.Tag, res.Tile}] = res
	}

	var skipped []string
	r.staged = make(map[string][]stagedTile)
	for _, res := range fetched.Results {
		if v, ok := final[key{res.Tag, res.Tile}]; ok {
			res = v
		}
		if res.Status == fetch.StatusFailed {
			skipped = append(skipped, fmt.Sprintf("%s/%s: %v", res.Tag, res.Tile, res.Err))
			continue
		}
		r.staged[res.Tag] = append(r.staged[res.Tag], stagedTile{id: res.Tile, path: res.Path})
	}
	return skipped, nil
}

// importMissing imports staged tiles and absent region layers, registering
// each only after its import succeeded.
func (d *Driver) importMissing(ctx context.Context, r *run) ([]string, error) {
	if r.upToDate() {
		return nil, errSkipped
	}
	for _, tag := range d.rasterTags() {
		staged := r.staged[tag]
		if len(staged) == 0 {
			continue
		}
		paths := make([]string, len(staged))
		ids := make([]domain.TileID, len(staged))
		for i, s := range staged {
			paths[i] = s.path
			ids[i] = s.id
		}
		if err := d.c.Importer.ImportTiles(ctx, tag, paths); err != nil {
			return nil, fmt.Errorf("import %s: %w", tag, err)
		}
		if err := d.c.Store.RegisterTiles(ctx, tag, ids); err != nil {
			return nil, err
		}
	}

	for _, tag := range r.missingRegions {
		source := d.settings.RegionSources[tag]
		if source == "" {
			return nil, fmt.Errorf("region layer %s is not in the store and has no source file: %w", tag, domain.ErrConfig)
		}
		if err := d.c.Importer.ImportDataset(ctx, tag, source); err != nil {
			return nil, fmt.Errorf("import %s: %w", tag, err)
		}
		if err := d.c.Store.RegisterDataset(ctx, tag); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// group reuses events saved by an earlier run, otherwise groups and saves.
// Rejected detections are reported as skipped items.
func (d *Driver) group(ctx context.Context, r *run) ([]string, error) {
	events, found, err := d.c.Store.LoadEvents(ctx, r.tag)
	if err != nil {
		return nil, err
	}
	if found {
		r.events = events
		return nil, errSkipped
	}

	result, err := d.c.Grouper.Group(ctx, r.detections)
	if err != nil {
		return nil, err
	}
	if err := d.c.Store.SaveEvents(ctx, r.tag, result.Events); err != nil {
		return nil, err
	}
	r.events = result.Events

	var skipped []string
	for _, rej := range result.Rejected {
		skipped = append(skipped, fmt.Sprintf("%s: %s", rej.Detection.ID, rej.Reason))
	}
	return skipped, nil
}

// join attributes events with every layer the store holds. A layer with no
// data at all is skipped and its columns stay empty.
func (d *Driver) join(ctx context.Context, r *run) ([]string, error) {
	var skipped []string
	r.layers = r.layers[:0]
	for _, cfg := range d.settings.Layers {
		data, err := d.c.Store.LoadLayer(ctx, cfg.Tag)
		if errors.Is(err, domain.ErrNotFound) {
			skipped = append(skipped, cfg.Tag)
			continue
		}
		if err != nil {
			return nil, err
		}
		r.layers = append(r.layers, join.Layer{Config: cfg, Data: data})
	}

	summaries, err := d.c.Joiner.Join(ctx, r.events, r.layers)
	if err != nil {
		return nil, err
	}
	r.summaries = summaries
	return skipped, nil
}

func (d *Driver) export(ctx context.Context, r *run) ([]string, error) {
	records := join.Records(r.events, r.summaries, d.settings.Layers)
	for _, e := range d.c.Exporters {
		if err := e.Export(ctx, r.tag, records); err != nil {
			return nil, err
		}
	}
	d.metrics.RecordsExported.Add(float64(len(records)))
	return nil, nil
}
