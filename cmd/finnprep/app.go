package main

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/finn-preprocessor/internal/adapter/archive"
	"github.com/couchcryptid/finn-preprocessor/internal/adapter/export"
	"github.com/couchcryptid/finn-preprocessor/internal/adapter/importer"
	kafkaadapter "github.com/couchcryptid/finn-preprocessor/internal/adapter/kafka"
	"github.com/couchcryptid/finn-preprocessor/internal/adapter/sqlstore"
	"github.com/couchcryptid/finn-preprocessor/internal/config"
	"github.com/couchcryptid/finn-preprocessor/internal/fetch"
	"github.com/couchcryptid/finn-preprocessor/internal/grouping"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"github.com/couchcryptid/finn-preprocessor/internal/pipeline"
	"github.com/couchcryptid/finn-preprocessor/internal/tilegrid"
)

// padDegrees grows detection extents before tile resolution.
const padDegrees = 0.05

// app holds the wired components shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *sqlstore.Store
	fetcher *fetch.Manager
	driver  *pipeline.Driver
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	metrics := observability.NewMetrics()
	a := &app{cfg: cfg, logger: logger}

	// Grouping options are checked before any connection is opened.
	opts := grouping.DefaultOptions()
	opts.DistanceKm = cfg.GroupDistanceKm
	opts.Window = cfg.GroupWindow
	opts.MaxDuration = cfg.GroupMaxDuration
	opts.MaxGapWindows = cfg.GroupMaxGap
	opts.Workers = cfg.GroupWorkers
	grouper, err := grouping.New(opts, logger, metrics)
	if err != nil {
		return nil, err
	}

	store, err := sqlstore.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	// Manifest cache: in-process LRU, backed by Redis when REDIS_ADDR is set.
	client := archive.NewClient(cfg.ArchiveURL, cfg.FetchTimeout, logger)
	var shared archive.SharedCache
	if rc := archive.OpenRedis(cfg.RedisAddr); rc != nil {
		shared = archive.NewRedisCache(rc, cfg.ManifestCacheTTL, logger)
		a.closers = append(a.closers, rc.Close)
		logger.Info("redis manifest cache enabled", "addr", cfg.RedisAddr)
	}
	manifests := archive.NewCachedManifests(client, cfg.ManifestCacheSize, shared, logger, metrics)
	a.fetcher = fetch.NewManager(archive.New(client, manifests), cfg.StagingDir, cfg.FetchWorkers, logger, metrics)

	var tiles importer.TileImporter
	if cfg.ImportCommand != "" {
		cmd, err := importer.NewCommand(cfg.ImportCommand, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		tiles = cmd
	} else {
		logger.Warn("IMPORT_COMMAND not set, raster tiles cannot be imported")
	}
	imp := importer.NewNative(store, tiles, cfg.RegionSources(), logger)

	exporters := []pipeline.Exporter{export.NewCSV(cfg.ExportDir, cfg.Layers, logger)}
	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		exporters = append(exporters, writer)
		a.closers = append(a.closers, writer.Close)
		logger.Info("kafka export enabled", "topic", cfg.KafkaSinkTopic)
	}

	regionSources := make(map[string]string, len(cfg.RegionTags))
	for _, tag := range cfg.RegionTags {
		if cfg.RegionShapefile != "" {
			regionSources[tag] = cfg.RegionShapefile
		}
	}

	a.driver = pipeline.New(pipeline.Components{
		Store:     store,
		Grid:      tilegrid.MODIS(),
		Fetcher:   a.fetcher,
		Importer:  imp,
		Grouper:   grouper,
		Joiner:    join.New(cfg.JoinWorkers, logger, metrics),
		Exporters: exporters,
	}, pipeline.Settings{
		Layers:        cfg.Layers,
		RegionSources: regionSources,
		PadDegrees:    padDegrees,
	}, logger, metrics)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
	a.closers = nil
}

// datasets returns the configured fire inputs as scheduler datasets.
func (a *app) datasets() []pipeline.Dataset {
	out := make([]pipeline.Dataset, len(a.cfg.Datasets))
	for i, d := range a.cfg.Datasets {
		out[i] = pipeline.Dataset{Tag: d.Tag, Source: d.Source}
	}
	return out
}

// readiness is ready when the store answers and the last scheduled round
// succeeded.
type readiness struct {
	store     *sqlstore.Store
	scheduler *pipeline.Scheduler
}

func (r readiness) CheckReadiness(ctx context.Context) error {
	if err := r.store.CheckReadiness(ctx); err != nil {
		return err
	}
	return r.scheduler.CheckReadiness(ctx)
}
