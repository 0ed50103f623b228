// Package pipeline sequences the preprocessing stages for one active-fire
// dataset and reports a structured outcome per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/fetch"
	"github.com/couchcryptid/finn-preprocessor/internal/grouping"
	"github.com/couchcryptid/finn-preprocessor/internal/inventory"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/couchcryptid/finn-preprocessor/internal/tilegrid"
	"github.com/google/uuid"
)

// Stage names, in run order.
const (
	StageDataset = "dataset"
	StageLoad    = "load"
	StageResolve = "resolve"
	StageFetch   = "fetch"
	StageImport  = "import"
	StageGroup   = "group"
	StageJoin    = "join"
	StageExport  = "export"
)

// Store is the spatial store as the driver uses it.
type Store interface {
	inventory.Store
	RegisterTiles(ctx context.Context, tag string, ids []domain.TileID) error
	RegisterDataset(ctx context.Context, tag string) error
	LoadDetections(ctx context.Context, dataset string) ([]domain.FireDetection, error)
	LoadLayer(ctx context.Context, tag string) (spatial.Layer, error)
	SaveEvents(ctx context.Context, dataset string, events []domain.FireEvent) error
	LoadEvents(ctx context.Context, dataset string) ([]domain.FireEvent, bool, error)
}

// Fetcher stages missing tiles and keeps the staging area verified.
type Fetcher interface {
	Fetch(ctx context.Context, missing []domain.Tile) (fetch.Report, error)
	VerifyAndRepair(ctx context.Context) (fetch.Report, error)
}

// Importer loads staged tiles and non-tiled datasets into the store.
type Importer interface {
	ImportTiles(ctx context.Context, tag string, paths []string) error
	ImportDataset(ctx context.Context, tag, source string) error
}

// Exporter hands attributed records to a downstream consumer.
type Exporter interface {
	Export(ctx context.Context, tag string, records []join.OutputRecord) error
}

// Components are the collaborators of a Driver.
type Components struct {
	Store     Store
	Grid      tilegrid.Grid
	Fetcher   Fetcher
	Importer  Importer
	Grouper   *grouping.Grouper
	Joiner    *join.Joiner
	Exporters []Exporter
}

// Settings are the derived configuration values the driver needs.
type Settings struct {
	Layers []domain.LayerConfig
	// RegionSources maps polygon layer tags to the file they are imported
	// from when absent from the store.
	RegionSources map[string]string
	// PadDegrees grows the detection extent so footprints near a tile edge
	// still pull in the neighbouring tile.
	PadDegrees float64
}

// Driver runs the pipeline. Runs are serialized: a tag is never imported
// while another run reads it.
type Driver struct {
	c        Components
	settings Settings
	resolver *inventory.Resolver
	logger   *slog.Logger
	metrics  *observability.Metrics

	runMu sync.Mutex
}

// New creates a Driver. Layer configuration must already be validated.
func New(c Components, settings Settings, logger *slog.Logger, metrics *observability.Metrics) *Driver {
	return &Driver{
		c:        c,
		settings: settings,
		resolver: inventory.NewResolver(c.Grid, c.Store),
		logger:   logger,
		metrics:  metrics,
	}
}

func (d *Driver) rasterTags() []string {
	var tags []string
	for _, l := range d.settings.Layers {
		if l.Tiled() {
			tags = append(tags, l.Tag)
		}
	}
	return tags
}

func (d *Driver) regionTags() []string {
	var tags []string
	for _, l := range d.settings.Layers {
		if !l.Tiled() {
			tags = append(tags, l.Tag)
		}
	}
	return tags
}

// run carries state between the stages of one Run.
type run struct {
	tag, source    string
	detections     []domain.FireDetection
	extent         domain.Extent
	need           domain.TileNeedReport
	missingRegions []string
	staged         map[string][]stagedTile
	events         []domain.FireEvent
	summaries      join.Summaries
	layers         []join.Layer
}

type stagedTile struct {
	id   domain.TileID
	path string
}

// errSkipped marks a stage whose precondition was already satisfied.
var errSkipped = errors.New("skipped")

// stageFunc returns the items it skipped and an error. errSkipped reports
// the whole stage as skipped.
type stageFunc func(ctx context.Context, r *run) ([]string, error)

// Run processes the dataset tag, importing it from source if the store does
// not have it yet. The returned report lists every stage that ran; the first
// failed stage halts the run and durable output of earlier stages stays.
func (d *Driver) Run(ctx context.Context, tag, source string) domain.RunReport {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.metrics.PipelineRunning.Set(1)
	defer d.metrics.PipelineRunning.Set(0)

	report := domain.RunReport{
		RunID:     uuid.NewString(),
		Dataset:   tag,
		StartedAt: domain.Now(),
	}
	logger := d.logger.With("run_id", report.RunID, "dataset", tag)
	logger.Info("pipeline run started")

	r := &run{tag: tag, source: source}
	stages := []struct {
		name string
		fn   stageFunc
	}{
		{StageDataset, d.ensureDataset},
		{StageLoad, d.load},
		{StageResolve, d.resolve},
		{StageFetch, d.fetch},
		{StageImport, d.importMissing},
		{StageGroup, d.group},
		{StageJoin, d.join},
		{StageExport, d.export},
	}
	for _, s := range stages {
		outcome := d.runStage(ctx, logger, s.name, s.fn, r)
		report.Stages = append(report.Stages, outcome)
		if outcome.Status == domain.StatusFailed {
			break
		}
	}

	report.FinishedAt = domain.Now()
	if failed, ok := report.FailedStage(); ok {
		d.metrics.LastRunSuccess.Set(0)
		logger.Error("pipeline run failed", "stage", failed.Stage, "cause", failed.Cause)
	} else {
		d.metrics.LastRunSuccess.Set(1)
		logger.Info("pipeline run finished", "duration", report.FinishedAt.Sub(report.StartedAt))
	}
	return report
}

func (d *Driver) runStage(ctx context.Context, logger *slog.Logger, name string, fn stageFunc, r *run) domain.StageOutcome {
	start := time.Now()
	skipped, err := fn(ctx, r)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	outcome := domain.StageOutcome{Stage: name, Skipped: skipped, Duration: elapsed}
	switch {
	case errors.Is(err, errSkipped):
		outcome.Status = domain.StatusSkipped
		outcome.Skipped = nil
	case err != nil:
		outcome.Status = domain.StatusFailed
		outcome.Cause = err.Error()
	case len(skipped) > 0:
		outcome.Status = domain.StatusPartial
	default:
		outcome.Status = domain.StatusSuccess
	}

	d.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	d.metrics.StageOutcomes.WithLabelValues(name, string(outcome.Status)).Inc()
	logger.Info("stage finished", "stage", name, "status", outcome.Status, "skipped", len(outcome.Skipped), "duration", elapsed)
	return outcome
}

// Resolve loads the dataset and reports the tiles its extent needs. It does
// not import or fetch anything.
func (d *Driver) Resolve(ctx context.Context, tag string) (domain.TileNeedReport, error) {
	r := &run{tag: tag}
	if _, err := d.load(ctx, r); err != nil {
		return domain.TileNeedReport{}, err
	}
	if _, err := d.resolve(ctx, r); err != nil {
		return domain.TileNeedReport{}, err
	}
	return r.need, nil
}

// Fetch resolves the dataset and stages its missing tiles without importing
// them.
func (d *Driver) Fetch(ctx context.Context, tag string) (fetch.Report, error) {
	need, err := d.Resolve(ctx, tag)
	if err != nil {
		return fetch.Report{}, err
	}
	tiles, err := d.missingTiles(need)
	if err != nil {
		return fetch.Report{}, err
	}
	return d.c.Fetcher.Fetch(ctx, tiles)
}

func (d *Driver) missingTiles(need domain.TileNeedReport) ([]domain.Tile, error) {
	var tiles []domain.Tile
	for _, tag := range d.rasterTags() {
		_, date, err := domain.ParseRasterTag(tag)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", tag, err)
		}
		for _, id := range need.ByTag[tag].Missing {
			tiles = append(tiles, domain.Tile{ID: id, Tag: tag, Bounds: d.c.Grid.TileBounds(id), Date: date})
		}
	}
	return tiles, nil
}
