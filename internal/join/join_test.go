package join

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/observability"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rectEvent is an event whose geometry is lon [0,1] by lat [0.02,0.08].
func rectEvent(id string) domain.FireEvent {
	day := time.Date(2017, time.July, 4, 0, 0, 0, 0, time.UTC)
	return domain.FireEvent{
		ID:           id,
		DetectionIDs: []string{id + "-1", id + "-2"},
		Geometry: []domain.Point{
			{Lon: 0, Lat: 0.02}, {Lon: 1, Lat: 0.02}, {Lon: 1, Lat: 0.08}, {Lon: 0, Lat: 0.08}, {Lon: 0, Lat: 0.02},
		},
		FirstDay: day,
		LastDay:  day.AddDate(0, 0, 1),
	}
}

// stripGrid is one row of 0.1 degree cells offset by half a cell, so cell 0
// and the last cell overlap the event by half.
func stripGrid(nx int, bands map[string][]float64) *spatial.Grid {
	return &spatial.Grid{X0: -0.05, Y0: 0.1, DX: 0.1, DY: 0.1, NX: nx, NY: 1, NoData: -9999, Bands: bands}
}

func newTestJoiner() *Joiner {
	return New(2, slog.New(slog.NewTextHandler(io.Discard, nil)), observability.NewMetricsForTesting())
}

var lctConfig = domain.LayerConfig{
	Tag:      "modlct_2017",
	Kind:     domain.LayerThematic,
	Variable: "lct",
	Labels:   map[string]string{"1": "forest", "10": "grass"},
}

func TestJoin_ThematicDominantCategory(t *testing.T) {
	// Forest covers half of cell 0, cells 1-6 and half of cell 10: 70%.
	lct := []float64{1, 1, 1, 1, 1, 1, 1, 10, 10, 10, 1}
	layers := []Layer{{Config: lctConfig, Data: stripGrid(11, map[string][]float64{"lct": lct})}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)

	s := got["e1"]["modlct_2017"]
	assert.False(t, s.Null)
	assert.Equal(t, "forest", s.Dominant)
	assert.InDelta(t, 0.70, s.DominantFraction, 1e-6)
	assert.InDelta(t, 0.30, s.Weights["grass"], 1e-6)
	assert.InDelta(t, 1.0, s.Weights["forest"]+s.Weights["grass"], 1e-9)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)

	records := Records([]domain.FireEvent{rectEvent("e1")}, got, []domain.LayerConfig{lctConfig})
	require.Len(t, records, 1)
	assert.Equal(t, []Attribute{{Name: "v_lct", Value: "forest"}, {Name: "f_lct", Value: "0.7000"}}, records[0].Attributes)
}

func TestCategorize_TieGoesToLowestCode(t *testing.T) {
	s := categorize(domain.AttributeSummary{}, nil, map[string]float64{"10": 0.5, "2": 0.5}, 1)
	assert.Equal(t, "2", s.Dominant)
	assert.Equal(t, 0.5, s.DominantFraction)
}

func TestCategorize_MergesSharedLabels(t *testing.T) {
	labels := map[string]string{"1": "forest", "2": "forest", "10": "grass"}
	s := categorize(domain.AttributeSummary{}, labels, map[string]float64{"1": 0.2, "2": 0.2, "10": 0.4}, 1)
	assert.Equal(t, "forest", s.Dominant)
	assert.InDelta(t, 0.5, s.Weights["forest"], 1e-12)
	assert.InDelta(t, 0.8, s.CoveredFraction, 1e-12)
}

func TestJoin_ThematicPartialCoverage(t *testing.T) {
	// Grid spans lon [-0.05, 0.55] with one nodata cell.
	lct := []float64{1, 1, 1, -9999, 1, 1}
	layers := []Layer{{Config: lctConfig, Data: stripGrid(6, map[string][]float64{"lct": lct})}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	s := got["e1"]["modlct_2017"]
	assert.InDelta(t, 0.45, s.CoveredFraction, 1e-6)
	assert.Equal(t, map[string]float64{"forest": 1}, s.Weights)
}

func TestJoin_NoCoverageIsNull(t *testing.T) {
	grid := &spatial.Grid{X0: 50, Y0: 10, DX: 1, DY: 1, NX: 2, NY: 2, Bands: map[string][]float64{"lct": {1, 1, 1, 1}}}
	layers := []Layer{{Config: lctConfig, Data: grid}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	s := got["e1"]["modlct_2017"]
	assert.True(t, s.Null)
	assert.Zero(t, s.CoveredFraction)

	records := Records([]domain.FireEvent{rectEvent("e1")}, got, []domain.LayerConfig{lctConfig})
	assert.Equal(t, []Attribute{{Name: "v_lct"}, {Name: "f_lct"}}, records[0].Attributes)
}

func TestJoin_ContinuousMeans(t *testing.T) {
	nan := math.NaN()
	tree := []float64{10, 10, 10, 10, 10, 50, 50, 50, 50, 50, 50}
	herb := []float64{nan, nan, nan, nan, nan, nan, nan, nan, nan, nan, nan}
	cfg := domain.LayerConfig{Tag: "modvcf_2017", Kind: domain.LayerContinuous, Variables: []string{"tree", "herb"}}
	layers := []Layer{{Config: cfg, Data: stripGrid(11, map[string][]float64{"tree": tree, "herb": herb})}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	s := got["e1"]["modvcf_2017"]
	require.Contains(t, s.Means, "tree")
	assert.NotContains(t, s.Means, "herb")
	// (0.45*10 + 0.55*50) / 1.0
	assert.InDelta(t, 32.0, s.Means["tree"], 1e-6)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)

	records := Records([]domain.FireEvent{rectEvent("e1")}, got, []domain.LayerConfig{cfg})
	assert.Equal(t, []Attribute{{Name: "v_tree", Value: "32.0000"}, {Name: "v_herb"}}, records[0].Attributes)
}

func box(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}}
}

var regnumConfig = domain.LayerConfig{Tag: "regnum", Kind: domain.LayerPolygons, Variable: "region_num", VariableIn: "regnum"}

func TestJoin_PolygonLargestOverlap(t *testing.T) {
	regions := spatial.NewRegions([]*spatial.Region{
		{Polygonal: box(-1, -1, 0.4, 1), ID: "2"},
		{Polygonal: box(0.4, -1, 2, 1), ID: "10"},
	})
	layers := []Layer{{Config: regnumConfig, Data: regions}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	s := got["e1"]["regnum"]
	assert.Equal(t, "10", s.Region)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)
}

func TestJoin_PolygonTieGoesToLowestID(t *testing.T) {
	regions := spatial.NewRegions([]*spatial.Region{
		{Polygonal: box(-1, -1, 2, 1), ID: "10"},
		{Polygonal: box(-1, -1, 2, 1), ID: "9"},
	})
	layers := []Layer{{Config: regnumConfig, Data: regions}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	assert.Equal(t, "9", got["e1"]["regnum"].Region)
}

func TestJoin_PolygonOverlapIsSummedPerRegion(t *testing.T) {
	// Region 3 has two parts covering 30% each; region 5 covers 40%.
	regions := spatial.NewRegions([]*spatial.Region{
		{Polygonal: geom.MultiPolygon{box(-1, -1, 0.3, 1), box(0.7, -1, 2, 1)}, ID: "3"},
		{Polygonal: box(0.3, -1, 0.7, 1), ID: "5"},
	})
	layers := []Layer{{Config: regnumConfig, Data: regions}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, layers)
	require.NoError(t, err)
	s := got["e1"]["regnum"]
	assert.Equal(t, "3", s.Region)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)
}

func TestJoin_EventAcrossAntimeridian(t *testing.T) {
	day := time.Date(2017, time.July, 4, 0, 0, 0, 0, time.UTC)
	// Lon [179.7, 180.5]: 0.3° east of the antimeridian, 0.5° west of it.
	event := domain.FireEvent{
		ID:           "dateline",
		DetectionIDs: []string{"a", "b"},
		Geometry: []domain.Point{
			{Lon: 179.7, Lat: 0.02}, {Lon: 180.5, Lat: 0.02}, {Lon: 180.5, Lat: 0.08}, {Lon: 179.7, Lat: 0.08}, {Lon: 179.7, Lat: 0.02},
		},
		FirstDay: day,
		LastDay:  day,
	}
	regions := spatial.NewRegions([]*spatial.Region{
		{Polygonal: box(179, -1, 180, 1), ID: "1"},
		{Polygonal: box(-180, -1, -179, 1), ID: "2"},
		{Polygonal: box(-1, -1, 1, 1), ID: "3"},
	})
	layers := []Layer{{Config: regnumConfig, Data: regions}}

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{event}, layers)
	require.NoError(t, err)
	s := got["dateline"]["regnum"]
	assert.Equal(t, "2", s.Region)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)
}

func TestJoin_LayerDataMismatchIsConfigError(t *testing.T) {
	tests := []struct {
		name  string
		layer Layer
	}{
		{"thematic over regions", Layer{Config: lctConfig, Data: spatial.NewRegions(nil)}},
		{"polygons over grid", Layer{Config: regnumConfig, Data: stripGrid(1, map[string][]float64{"lct": {1}})}},
		{"missing band", Layer{Config: lctConfig, Data: stripGrid(1, map[string][]float64{"other": {1}})}},
		{"unknown kind", Layer{Config: domain.LayerConfig{Tag: "x", Kind: "raster"}, Data: stripGrid(1, nil)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")}, []Layer{tt.layer})
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestJoin_ManyEventsConcurrently(t *testing.T) {
	lct := []float64{1, 1, 1, 1, 1, 1, 1, 10, 10, 10, 1}
	layers := []Layer{{Config: lctConfig, Data: stripGrid(11, map[string][]float64{"lct": lct})}}
	var events []domain.FireEvent
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		events = append(events, rectEvent(id))
	}

	got, err := newTestJoiner().Join(context.Background(), events, layers)
	require.NoError(t, err)
	require.Len(t, got, len(events))
	for _, e := range events {
		assert.Equal(t, "forest", got[e.ID]["modlct_2017"].Dominant)
	}
}

func TestColumnsAndRow(t *testing.T) {
	layers := []domain.LayerConfig{
		lctConfig,
		{Tag: "modvcf_2017", Kind: domain.LayerContinuous, Variables: []string{"tree", "herb", "bare"}},
		regnumConfig,
	}
	assert.Equal(t, []string{
		"event_id", "first_day", "last_day", "n_detections", "geometry",
		"v_lct", "f_lct", "v_tree", "v_herb", "v_bare", "v_region_num",
	}, Columns(layers))

	records := Records([]domain.FireEvent{rectEvent("e1")}, Summaries{}, layers)
	row := records[0].Row()
	assert.Len(t, row, len(Columns(layers)))
	assert.Equal(t, []string{"e1", "2017-07-04", "2017-07-05", "2"}, row[:4])
	assert.Contains(t, row[4], "POLYGON((")
}

func TestJoin_ThematicAcrossMosaicTiles(t *testing.T) {
	west := stripGrid(6, map[string][]float64{"lct": {1, 1, 1, 1, 1, 1}})
	east := &spatial.Grid{X0: 0.55, Y0: 0.1, DX: 0.1, DY: 0.1, NX: 5, NY: 1, NoData: -9999,
		Bands: map[string][]float64{"lct": {10, 10, 10, 10, 10}}}
	mosaic, err := spatial.NewMosaic(west, east)
	require.NoError(t, err)

	got, err := newTestJoiner().Join(context.Background(), []domain.FireEvent{rectEvent("e1")},
		[]Layer{{Config: lctConfig, Data: mosaic}})
	require.NoError(t, err)

	s := got["e1"]["modlct_2017"]
	assert.Equal(t, "forest", s.Dominant)
	assert.InDelta(t, 0.55, s.Weights["forest"], 1e-6)
	assert.InDelta(t, 0.45, s.Weights["grass"], 1e-6)
	assert.InDelta(t, 1.0, s.CoveredFraction, 1e-6)
}
