// Package config loads service settings from the environment, an optional
// .env file and an optional layer configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Dataset is one active-fire input file and its store tag.
type Dataset struct {
	Tag    string
	Kind   string
	Source string
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	StoreDriver string
	DatabaseURL string

	ArchiveURL        string
	StagingDir        string
	FetchWorkers      int
	FetchTimeout      time.Duration
	ManifestCacheSize int
	ManifestCacheTTL  time.Duration
	RedisAddr         string

	RasterYear      int
	FireInputs      []string
	LayersFile      string
	Layers          []domain.LayerConfig
	RegionShapefile string
	ImportCommand   string

	// Grouping thresholds.
	GroupDistanceKm  float64
	GroupWindow      time.Duration
	GroupMaxDuration time.Duration
	GroupMaxGap      int
	GroupWorkers     int
	JoinWorkers      int

	ExportDir      string
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	Schedule        string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Derived once from the settings above.
	Datasets   []Dataset
	RasterTags []string
	RegionTags []string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is loaded first if
// present; variables already set win. Every error wraps domain.ErrConfig.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreDriver:     sharedcfg.EnvOrDefault("STORE_DRIVER", "sqlite"),
		DatabaseURL:     sharedcfg.EnvOrDefault("DATABASE_URL", "finnprep.db"),
		ArchiveURL:      strings.TrimRight(sharedcfg.EnvOrDefault("ARCHIVE_URL", "https://e4ftl01.cr.usgs.gov/MOTA"), "/"),
		StagingDir:      sharedcfg.EnvOrDefault("STAGING_DIR", "staging"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		LayersFile:      os.Getenv("LAYERS_FILE"),
		RegionShapefile: os.Getenv("REGION_SHAPEFILE"),
		ImportCommand:   os.Getenv("IMPORT_COMMAND"),
		ExportDir:       sharedcfg.EnvOrDefault("EXPORT_DIR", "out"),
		KafkaBrokers:    sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic:  sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "fire-events"),
		Schedule:        sharedcfg.EnvOrDefault("SCHEDULE", "@daily"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		FireInputs:      splitList(os.Getenv("FIRE_INPUTS")),
	}

	if cfg.FetchWorkers, err = positiveInt("FETCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.GroupWorkers, err = positiveInt("GROUP_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.JoinWorkers, err = positiveInt("JOIN_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.ManifestCacheSize, err = positiveInt("MANIFEST_CACHE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.GroupMaxGap, err = positiveInt("GROUP_MAX_GAP", 1); err != nil {
		return nil, err
	}
	if cfg.RasterYear, err = positiveInt("RASTER_YEAR", 2017); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = positiveDuration("FETCH_TIMEOUT", "5m"); err != nil {
		return nil, err
	}
	if cfg.ManifestCacheTTL, err = positiveDuration("MANIFEST_CACHE_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.GroupWindow, err = positiveDuration("GROUP_WINDOW", "24h"); err != nil {
		return nil, err
	}
	if cfg.GroupMaxDuration, err = positiveDuration("GROUP_MAX_DURATION", "96h"); err != nil {
		return nil, err
	}
	distance := sharedcfg.EnvOrDefault("GROUP_DISTANCE_KM", "1")
	if cfg.GroupDistanceKm, err = strconv.ParseFloat(distance, 64); err != nil || cfg.GroupDistanceKm <= 0 {
		return nil, fmt.Errorf("invalid GROUP_DISTANCE_KM %q", distance)
	}
	if cfg.KafkaEnabled, err = strconv.ParseBool(sharedcfg.EnvOrDefault("KAFKA_ENABLED", "false")); err != nil {
		return nil, errors.New("invalid KAFKA_ENABLED")
	}

	if cfg.Layers, err = loadLayers(cfg.LayersFile, cfg.RasterYear); err != nil {
		return nil, err
	}
	if err := cfg.derive(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// derive computes dataset and layer tags.
func (c *Config) derive() error {
	for _, in := range c.FireInputs {
		tag, kind, err := domain.DatasetTag(in)
		if err != nil {
			return err
		}
		c.Datasets = append(c.Datasets, Dataset{Tag: tag, Kind: kind, Source: in})
	}
	for _, l := range c.Layers {
		if err := l.Validate(); err != nil {
			return err
		}
		if !l.Tiled() {
			c.RegionTags = append(c.RegionTags, l.Tag)
			continue
		}
		if _, _, err := domain.ParseRasterTag(l.Tag); err != nil {
			return err
		}
		c.RasterTags = append(c.RasterTags, l.Tag)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.StoreDriver)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.ArchiveURL == "" {
		return errors.New("ARCHIVE_URL is required")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if c.KafkaEnabled && c.KafkaSinkTopic == "" {
		return errors.New("KAFKA_SINK_TOPIC is required")
	}
	if err := domain.CheckWindow(c.GroupWindow, c.GroupMaxDuration); err != nil {
		return fmt.Errorf("GROUP_WINDOW %s with GROUP_MAX_DURATION %s: %w", c.GroupWindow, c.GroupMaxDuration, err)
	}
	if len(c.RegionTags) > 1 {
		return fmt.Errorf("at most one polygon layer is supported, got %d", len(c.RegionTags))
	}
	return nil
}

// Input returns the dataset configured for an input file, deriving its tag
// when the file is not among FIRE_INPUTS.
func (c *Config) Input(source string) (Dataset, error) {
	for _, d := range c.Datasets {
		if d.Source == source {
			return d, nil
		}
	}
	tag, kind, err := domain.DatasetTag(source)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Tag: tag, Kind: kind, Source: source}, nil
}

// RegionSources maps each polygon layer tag to its id column, for the
// dataset importer.
func (c *Config) RegionSources() map[string]string {
	out := make(map[string]string, len(c.RegionTags))
	for _, l := range c.Layers {
		if l.Kind == domain.LayerPolygons {
			out[l.Tag] = l.VariableIn
		}
	}
	return out
}

func positiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return n, nil
}

func positiveDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// lctLabels groups MCD12Q1 IGBP classes into fuel categories.
var lctLabels = map[string]string{
	"1": "forest", "2": "forest", "3": "forest", "4": "forest", "5": "forest",
	"6": "shrubland", "7": "shrubland",
	"8": "savanna", "9": "savanna",
	"10": "grassland",
	"11": "wetland",
	"12": "cropland", "14": "cropland",
	"13": "urban",
	"15": "snow_ice",
	"16": "barren",
	"17": "water",
}

// DefaultLayers returns land cover, vegetation fractions and regions for
// year.
func DefaultLayers(year int) []domain.LayerConfig {
	return []domain.LayerConfig{
		{Tag: domain.RasterTag("modlct", year), Kind: domain.LayerThematic, Variable: "lct", Labels: lctLabels},
		{Tag: domain.RasterTag("modvcf", year), Kind: domain.LayerContinuous, Variables: []string{"tree", "herb", "bare"}},
		{Tag: domain.RegionTag, Kind: domain.LayerPolygons, Variable: "regnum", VariableIn: "region_num"},
	}
}

// loadLayers reads the ordered layer list from a YAML, JSON or TOML file.
// Tags may contain "{year}", replaced by year. No file means DefaultLayers.
func loadLayers(path string, year int) ([]domain.LayerConfig, error) {
	if path == "" {
		return DefaultLayers(year), nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read LAYERS_FILE %s: %w", path, err)
	}
	var layers []domain.LayerConfig
	if err := v.UnmarshalKey("layers", &layers); err != nil {
		return nil, fmt.Errorf("parse LAYERS_FILE %s: %w", path, err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("LAYERS_FILE %s defines no layers", path)
	}
	for i := range layers {
		layers[i].Tag = strings.ReplaceAll(layers[i].Tag, "{year}", strconv.Itoa(year))
	}
	return layers, nil
}
