package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// preprocessing pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	LastRunSuccess  prometheus.Gauge

	StageDuration *prometheus.HistogramVec // labels: stage
	StageOutcomes *prometheus.CounterVec   // labels: stage, status

	// Tile inventory and fetch metrics.
	TilesRequired  *prometheus.GaugeVec   // labels: tag
	TilesMissing   *prometheus.GaugeVec   // labels: tag
	TileDownloads  *prometheus.CounterVec // labels: tag, outcome={success,error}
	VerifyFailures *prometheus.CounterVec // labels: tag
	ManifestCache  *prometheus.CounterVec // labels: result={hit,shared_hit,miss}

	// Grouping and attribution metrics.
	DetectionsRejected prometheus.Counter
	EventsGrouped      prometheus.Counter
	JoinCoverage       *prometheus.HistogramVec // labels: layer
	RecordsExported    prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.LastRunSuccess,
		m.StageDuration,
		m.StageOutcomes,
		m.TilesRequired,
		m.TilesMissing,
		m.TileDownloads,
		m.VerifyFailures,
		m.ManifestCache,
		m.DetectionsRejected,
		m.EventsGrouped,
		m.JoinCoverage,
		m.RecordsExported,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finn_prep",
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "finn_prep",
			Name:      "last_run_success",
			Help:      "1 when the most recent run completed without a failed stage.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finn_prep",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"stage"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "stage_outcomes_total",
			Help:      "Stage completions by stage and status.",
		}, []string{"stage", "status"}),
		TilesRequired: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finn_prep",
			Name:      "tiles_required",
			Help:      "Tiles needed to cover the active-fire extent, by dataset tag.",
		}, []string{"tag"}),
		TilesMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "finn_prep",
			Name:      "tiles_missing",
			Help:      "Required tiles not yet imported, by dataset tag.",
		}, []string{"tag"}),
		TileDownloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "tile_downloads_total",
			Help:      "Tile download attempts by tag and outcome.",
		}, []string{"tag", "outcome"}),
		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "verify_failures_total",
			Help:      "Staged files that failed checksum or structural verification.",
		}, []string{"tag"}),
		ManifestCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "manifest_cache_total",
			Help:      "Archive manifest cache lookups by result.",
		}, []string{"result"}),
		DetectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "detections_rejected_total",
			Help:      "Detections excluded from grouping because of invalid fields.",
		}),
		EventsGrouped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "events_grouped_total",
			Help:      "Fire events produced by grouping.",
		}),
		JoinCoverage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "finn_prep",
			Name:      "join_covered_fraction",
			Help:      "Fraction of event area covered by layer data.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 1},
		}, []string{"layer"}),
		RecordsExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "finn_prep",
			Name:      "records_exported_total",
			Help:      "Attributed event records handed to exporters.",
		}),
	}
}
