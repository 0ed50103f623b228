package shapefile

import (
	"path/filepath"
	"testing"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regionRow struct {
	geom.Polygon
	RegionNum int `shp:"region_num"`
}

type fireRow struct {
	geom.Point
	AcqDate    string  `shp:"ACQ_DATE"`
	Instrument string  `shp:"INSTRUMENT"`
	FRP        float64 `shp:"FRP"`
}

func square(x0 float64) geom.Polygon {
	return geom.Polygon{{{X: x0, Y: 0}, {X: x0, Y: 1}, {X: x0 + 1, Y: 1}, {X: x0 + 1, Y: 0}, {X: x0, Y: 0}}}
}

func writeRegions(t *testing.T, rows ...regionRow) string {
	t.Helper()
	if len(rows) == 0 {
		rows = []regionRow{{Polygon: square(0), RegionNum: 9}, {Polygon: square(1), RegionNum: 10}}
	}
	path := filepath.Join(t.TempDir(), "regnum.shp")
	enc, err := shp.NewEncoder(path, regionRow{})
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, enc.Encode(r))
	}
	enc.Close()
	return path
}

func TestLoadRegions(t *testing.T) {
	regions, err := LoadRegions(writeRegions(t), "region_num")
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.Equal(t, "9", regions[0].ID)
	assert.Equal(t, "10", regions[1].ID)
	assert.InDelta(t, 1.0, regions[0].Area(), 1e-9)
	assert.InDelta(t, 1.0, regions[1].Bounds().Min.X, 1e-9)
}

func TestLoadRegions_MergesParts(t *testing.T) {
	path := writeRegions(t,
		regionRow{Polygon: square(0), RegionNum: 3},
		regionRow{Polygon: square(1), RegionNum: 5},
		regionRow{Polygon: square(4), RegionNum: 3},
	)
	regions, err := LoadRegions(path, "region_num")
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "3", regions[0].ID)
	assert.Len(t, regions[0].Polygons(), 2)
	assert.InDelta(t, 2.0, regions[0].Area(), 1e-9)
	assert.InDelta(t, 5.0, regions[0].Bounds().Max.X, 1e-9)

	assert.Equal(t, "5", regions[1].ID)
	assert.Len(t, regions[1].Polygons(), 1)
}

func TestLoadRegions_MissingColumn(t *testing.T) {
	_, err := LoadRegions(writeRegions(t), "regnum")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadRegions_MissingFile(t *testing.T) {
	_, err := LoadRegions(filepath.Join(t.TempDir(), "absent.shp"), "region_num")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLoadPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fire_archive_M6_1.shp")
	enc, err := shp.NewEncoder(path, fireRow{})
	require.NoError(t, err)
	require.NoError(t, enc.Encode(fireRow{Point: geom.Point{X: -120.5, Y: 45.25}, AcqDate: "2017-08-01", Instrument: "MODIS", FRP: 12.5}))
	enc.Close()

	points, err := LoadPoints(path, "ACQ_DATE", "INSTRUMENT", "FRP")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, -120.5, points[0].Lon)
	assert.Equal(t, 45.25, points[0].Lat)
	assert.Equal(t, "2017-08-01", points[0].Fields["ACQ_DATE"])
	assert.Equal(t, "MODIS", points[0].Fields["INSTRUMENT"])
}

func TestLoadPoints_RejectsPolygons(t *testing.T) {
	_, err := LoadPoints(writeRegions(t), "region_num")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
