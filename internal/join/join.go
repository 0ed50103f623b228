// Package join attributes fire events with the layers configured for a run.
//
// Areas are planar in lon/lat degrees. Only ratios of areas within one event
// are reported, so the unit cancels out.
package join

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Layer binds a layer configuration to its loaded data.
type Layer struct {
	Config domain.LayerConfig
	Data   spatial.Layer
}

// Summaries maps event id to layer tag to summary.
type Summaries map[string]map[string]domain.AttributeSummary

// Joiner intersects events with layers.
type Joiner struct {
	workers int
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Joiner processing up to workers events at a time.
func New(workers int, logger *slog.Logger, metrics *observability.Metrics) *Joiner {
	if workers < 1 {
		workers = 1
	}
	return &Joiner{workers: workers, logger: logger, metrics: metrics}
}

// Join summarizes every layer over every event. Partial or missing coverage
// never fails; it shows up as CoveredFraction below 1 or a Null summary. A
// layer whose data does not fit its kind is a configuration error.
func (j *Joiner) Join(ctx context.Context, events []domain.FireEvent, layers []Layer) (Summaries, error) {
	for _, l := range layers {
		if err := checkLayer(l); err != nil {
			return nil, err
		}
	}

	results := make([]map[string]domain.AttributeSummary, len(events))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for i, e := range events {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = j.joinEvent(e, layers)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("join events: %w", err)
	}

	out := make(Summaries, len(events))
	nulls := 0
	for i, e := range events {
		out[e.ID] = results[i]
		for tag, s := range results[i] {
			j.metrics.JoinCoverage.WithLabelValues(tag).Observe(s.CoveredFraction)
			if s.Null {
				nulls++
			}
		}
	}
	j.logger.Info("events attributed", "events", len(events), "layers", len(layers), "null_summaries", nulls)
	return out, nil
}

func checkLayer(l Layer) error {
	if err := l.Config.Validate(); err != nil {
		return err
	}
	switch l.Config.Kind {
	case domain.LayerThematic, domain.LayerContinuous:
		mosaic, ok := asMosaic(l.Data)
		if !ok {
			return fmt.Errorf("layer %s: %s layer needs grid data: %w", l.Config.Tag, l.Config.Kind, domain.ErrConfig)
		}
		bands := l.Config.Variables
		if l.Config.Kind == domain.LayerThematic {
			bands = []string{l.Config.Variable}
		}
		for _, b := range bands {
			if !mosaic.HasBand(b) {
				return fmt.Errorf("layer %s: no band %q: %w", l.Config.Tag, b, domain.ErrConfig)
			}
		}
	case domain.LayerPolygons:
		if _, ok := l.Data.(*spatial.Regions); !ok {
			return fmt.Errorf("layer %s: polygon layer needs region data: %w", l.Config.Tag, domain.ErrConfig)
		}
	}
	return nil
}

func (j *Joiner) joinEvent(e domain.FireEvent, layers []Layer) map[string]domain.AttributeSummary {
	parts := spatial.Polygons(e.Geometry)
	area := math.Abs(parts[0].Area())

	out := make(map[string]domain.AttributeSummary, len(layers))
	for _, l := range layers {
		s := domain.AttributeSummary{Layer: l.Config.Tag, Kind: l.Config.Kind}
		if area > 0 {
			if regions, ok := l.Data.(*spatial.Regions); ok {
				s = polygons(s, regions, parts, area)
			} else if mosaic, ok := asMosaic(l.Data); ok {
				if l.Config.Kind == domain.LayerThematic {
					s = thematic(s, l.Config, mosaic, parts, area)
				} else {
					s = continuous(s, l.Config, mosaic, parts, area)
				}
			}
		}
		if s.CoveredFraction <= 0 {
			s = domain.AttributeSummary{Layer: s.Layer, Kind: s.Kind, Null: true}
		}
		out[l.Config.Tag] = s
	}
	return out
}

func asMosaic(data spatial.Layer) (*spatial.Mosaic, bool) {
	switch d := data.(type) {
	case *spatial.Mosaic:
		return d, true
	case *spatial.Grid:
		return &spatial.Mosaic{Grids: []*spatial.Grid{d}}, true
	}
	return nil, false
}

// cellOverlaps calls fn with the overlap area of every cell of every tile
// that intersects one of parts.
func cellOverlaps(mosaic *spatial.Mosaic, parts []geom.Polygon, fn func(grid *spatial.Grid, col, row int, area float64)) {
	for _, poly := range parts {
		bounds := poly.Bounds()
		for _, grid := range mosaic.Grids {
			c0, c1, r0, r1, ok := grid.CellRange(bounds)
			if !ok {
				continue
			}
			for row := r0; row <= r1; row++ {
				for col := c0; col <= c1; col++ {
					isect := poly.Intersection(grid.CellBounds(col, row))
					if isect == nil {
						continue
					}
					if a := math.Abs(isect.Area()); a > 0 {
						fn(grid, col, row, a)
					}
				}
			}
		}
	}
}

// thematic weights categories by overlap area over cells with data. Weights
// are normalized over the covered area; the dominant category is the largest
// weight, ties going to the lowest category code.
func thematic(s domain.AttributeSummary, cfg domain.LayerConfig, mosaic *spatial.Mosaic, parts []geom.Polygon, area float64) domain.AttributeSummary {
	byCode := make(map[string]float64)
	cellOverlaps(mosaic, parts, func(grid *spatial.Grid, col, row int, a float64) {
		if v, ok := grid.Value(cfg.Variable, col, row); ok {
			byCode[strconv.FormatFloat(v, 'f', -1, 64)] += a
		}
	})
	if len(byCode) == 0 {
		return s
	}
	return categorize(s, cfg.Labels, byCode, area)
}

// categorize fills weights and the dominant category from per-code areas.
func categorize(s domain.AttributeSummary, labels map[string]string, byCode map[string]float64, area float64) domain.AttributeSummary {
	codes := make([]string, 0, len(byCode))
	for c := range byCode {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return spatial.LessID(codes[i], codes[j]) })

	areas := make([]float64, len(codes))
	for i, c := range codes {
		areas[i] = byCode[c]
	}
	covered := floats.Sum(areas)
	floats.Scale(1/covered, areas)

	s.Weights = make(map[string]float64, len(codes))
	var order []string
	for i, c := range codes {
		label := c
		if l, ok := labels[c]; ok {
			label = l
		}
		if _, seen := s.Weights[label]; !seen {
			order = append(order, label)
		}
		s.Weights[label] += areas[i]
	}
	for _, label := range order {
		if s.Weights[label] > s.DominantFraction {
			s.Dominant, s.DominantFraction = label, s.Weights[label]
		}
	}
	s.CoveredFraction = math.Min(1, covered/area)
	return s
}

// continuous takes the area-weighted mean of each variable over the cells
// where it has data. A cell counts as covered when any variable has data.
func continuous(s domain.AttributeSummary, cfg domain.LayerConfig, mosaic *spatial.Mosaic, parts []geom.Polygon, area float64) domain.AttributeSummary {
	values := make([][]float64, len(cfg.Variables))
	weights := make([][]float64, len(cfg.Variables))
	covered := 0.0
	cellOverlaps(mosaic, parts, func(grid *spatial.Grid, col, row int, a float64) {
		hasData := false
		for i, name := range cfg.Variables {
			if v, ok := grid.Value(name, col, row); ok {
				values[i] = append(values[i], v)
				weights[i] = append(weights[i], a)
				hasData = true
			}
		}
		if hasData {
			covered += a
		}
	})
	if covered == 0 {
		return s
	}

	s.Means = make(map[string]float64, len(cfg.Variables))
	for i, name := range cfg.Variables {
		if len(values[i]) == 0 {
			continue
		}
		s.Means[name] = floats.Dot(values[i], weights[i]) / floats.Sum(weights[i])
	}
	s.CoveredFraction = math.Min(1, covered/area)
	return s
}

// polygons picks the region with the largest total overlap, ties going to
// the lowest region id.
func polygons(s domain.AttributeSummary, regions *spatial.Regions, parts []geom.Polygon, area float64) domain.AttributeSummary {
	byRegion := make(map[string]float64)
	var ids []string
	for _, poly := range parts {
		for _, r := range regions.Search(poly.Bounds()) {
			isect := poly.Intersection(r.Polygonal)
			if isect == nil {
				continue
			}
			a := math.Abs(isect.Area())
			if a <= 0 {
				continue
			}
			if _, seen := byRegion[r.ID]; !seen {
				ids = append(ids, r.ID)
			}
			byRegion[r.ID] += a
		}
	}
	if len(ids) == 0 {
		return s
	}
	sort.Slice(ids, func(i, j int) bool { return spatial.LessID(ids[i], ids[j]) })

	best, covered := 0.0, 0.0
	for _, id := range ids {
		a := byRegion[id]
		covered += a
		if a > best {
			best, s.Region = a, id
		}
	}
	s.CoveredFraction = math.Min(1, covered/area)
	return s
}
