package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", slog.Default())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestTilesAndDatasets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := domain.TileID{H: 8, V: 4}

	ok, err := s.TileExists(ctx, "modlct_2017", id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RegisterTiles(ctx, "modlct_2017", []domain.TileID{id}))
	require.NoError(t, s.RegisterTiles(ctx, "modlct_2017", []domain.TileID{id}), "registering twice is a no-op")

	ok, err = s.TileExists(ctx, "modlct_2017", id)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.TileExists(ctx, "modvcf_2017", id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RegisterDataset(ctx, "regnum"))
	ok, err = s.DatasetExists(ctx, "regnum")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDetections_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2017, 8, 1, 21, 30, 0, 0, time.UTC)

	in := []domain.FireDetection{
		{ID: "b", Lat: 45.1, Lon: -120.2, AcquiredAt: at, Sensor: "VIIRS", Confidence: "n", Brightness: 330.5, FRP: 4.2},
		{ID: "a", Lat: math.NaN(), Lon: -120, AcquiredAt: at, Sensor: "MODIS"},
		{ID: "c", Lat: 45, Lon: -120, Sensor: "MODIS"},
	}
	require.NoError(t, s.SaveDetections(ctx, "af_sample", in))

	out, err := s.LoadDetections(ctx, "af_sample")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.True(t, math.IsNaN(out[0].Lat), "null latitude loads as NaN")
	assert.Equal(t, in[0], out[1])
	assert.True(t, out[2].AcquiredAt.IsZero())

	_, err = s.LoadDetections(ctx, "af_other")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLayer_GridTiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	west := &spatial.Grid{X0: -130, Y0: 50, DX: 5, DY: 5, NX: 2, NY: 1, NoData: -9999,
		Bands: map[string][]float64{"lct": {1, 12}, "tree": {0.5, -9999}}}
	east := &spatial.Grid{X0: -120, Y0: 50, DX: 5, DY: 5, NX: 2, NY: 1, NoData: -9999,
		Bands: map[string][]float64{"lct": {4, 4}, "tree": {0.25, 1}}}
	require.NoError(t, s.PutGrid(ctx, "mod_2017", "h08v04", west))
	require.NoError(t, s.PutGrid(ctx, "mod_2017", "h09v04", east))

	layer, err := s.LoadLayer(ctx, "mod_2017")
	require.NoError(t, err)
	mosaic, ok := layer.(*spatial.Mosaic)
	require.True(t, ok, "grid tiles load as a mosaic")
	require.Len(t, mosaic.Grids, 2)

	if diff := cmp.Diff(west, mosaic.Grids[0]); diff != "" {
		t.Errorf("west tile (-want +got):\n%s", diff)
	}
	assert.True(t, mosaic.HasBand("tree"))

	_, err = s.LoadLayer(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLayer_Regions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	square := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}}}
	require.NoError(t, s.PutRegions(ctx, "regnum", []*spatial.Region{
		{Polygonal: square, ID: "7"},
		{Polygonal: geom.MultiPolygon{square}, ID: "3"},
	}))

	layer, err := s.LoadLayer(ctx, "regnum")
	require.NoError(t, err)
	regions, ok := layer.(*spatial.Regions)
	require.True(t, ok)
	assert.Equal(t, 2, regions.Len())

	hits := regions.Search(&geom.Bounds{Min: geom.Point{X: 0.2, Y: 0.2}, Max: geom.Point{X: 0.3, Y: 0.3}})
	require.Len(t, hits, 2)
	assert.Equal(t, "3", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Area(), 1e-12)
}

func TestLayer_DuplicateRegionIsInvalidInput(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	square := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}}}
	err := s.PutRegions(ctx, "regnum", []*spatial.Region{
		{Polygonal: square, ID: "3"},
		{Polygonal: square, ID: "3"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

func TestEvents_ReplaceAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadEvents(ctx, "af_sample")
	require.NoError(t, err)
	assert.False(t, found)

	ring := []domain.Point{{Lon: -120, Lat: 45}, {Lon: -119.9, Lat: 45}, {Lon: -120, Lat: 45.1}, {Lon: -120, Lat: 45}}
	first := []domain.FireEvent{{
		ID:           "evt-1",
		DetectionIDs: []string{"a", "b"},
		Geometry:     ring,
		Centroid:     domain.Point{Lon: -119.95, Lat: 45.05},
		FirstDay:     time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC),
		LastDay:      time.Date(2017, 8, 2, 0, 0, 0, 0, time.UTC),
		Sensors:      []string{"MODIS", "VIIRS"},
	}}
	require.NoError(t, s.SaveEvents(ctx, "af_sample", first))

	got, found, err := s.LoadEvents(ctx, "af_sample")
	require.NoError(t, err)
	require.True(t, found)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}

	second := []domain.FireEvent{{
		ID:           "evt-2",
		DetectionIDs: []string{"c"},
		Geometry:     ring,
		FirstDay:     time.Date(2017, 8, 3, 0, 0, 0, 0, time.UTC),
		LastDay:      time.Date(2017, 8, 3, 0, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, s.SaveEvents(ctx, "af_sample", second))
	got, _, err = s.LoadEvents(ctx, "af_sample")
	require.NoError(t, err)
	require.Len(t, got, 1, "saving replaces earlier events")
	assert.Equal(t, "evt-2", got[0].ID)
	assert.Nil(t, got[0].Sensors)
}

func TestCheckReadiness(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CheckReadiness(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.CheckReadiness(context.Background()), domain.ErrUnavailable)
}
