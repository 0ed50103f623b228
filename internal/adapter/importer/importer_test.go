package importer

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const modisCSV = `latitude,longitude,brightness,scan,track,acq_date,acq_time,satellite,instrument,confidence,version,bright_t31,frp,daynight
45.1234,-120.5,330.4,1.0,1.0,2017-08-01,2130,Terra,MODIS,87,6.03,295.1,20.5,D
45.2,-120.4,310.0,1.0,1.0,2017-08-02,45,Aqua,MODIS,60,6.03,290.0,8.1,N
bad,-120.4,310.0,1.0,1.0,2017-08-02,45,Aqua,MODIS,60,6.03,290.0,8.1,N
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadDetections_CSV(t *testing.T) {
	path := writeFile(t, "fire_archive_M6_96619.csv", modisCSV)

	got, err := ReadDetections(path, "af_fire_archive_m6_96619")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, domain.FireDetection{
		ID:         "af_fire_archive_m6_96619:1",
		Lat:        45.1234,
		Lon:        -120.5,
		AcquiredAt: time.Date(2017, 8, 1, 21, 30, 0, 0, time.UTC),
		Sensor:     "MODIS",
		Confidence: "87",
		Brightness: 330.4,
		FRP:        20.5,
	}, got[0])
	assert.Equal(t, time.Date(2017, 8, 2, 0, 45, 0, 0, time.UTC), got[1].AcquiredAt, "short acq_time is zero padded")
	assert.True(t, math.IsNaN(got[2].Lat), "bad latitude is kept for rejection")
}

func TestReadDetections_VIIRSBrightness(t *testing.T) {
	path := writeFile(t, "fire_archive_SV-C2_1.csv",
		"latitude,longitude,bright_ti4,acq_date,acq_time,confidence,frp\n10,20,340.5,2017-08-01,0105,h,3.5\n")
	got, err := ReadDetections(path, "af_x")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "VIIRS", got[0].Sensor)
	assert.Equal(t, 340.5, got[0].Brightness)
}

func TestReadDetections_UnsupportedType(t *testing.T) {
	_, err := ReadDetections(writeFile(t, "fires.txt", ""), "af_x")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestAcquiredAt(t *testing.T) {
	assert.Equal(t, time.Date(2017, 8, 1, 0, 0, 0, 0, time.UTC), acquiredAt("2017-08-01", ""))
	assert.True(t, acquiredAt("2017-08-01", "2460").IsZero())
	assert.True(t, acquiredAt("08/01/2017", "0100").IsZero())
}

// --- command importer ---

func TestCommand_PassesArguments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	script := writeFile(t, "import.sh", "#!/bin/sh\necho \"$@\" >> "+out+"\n")

	cmd, err := NewCommand("/bin/sh "+script, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, cmd.ImportTiles(ctx, "modlct_2017", []string{"/s/a.hdf", "/s/b.hdf"}))
	require.NoError(t, cmd.ImportTiles(ctx, "modlct_2017", nil), "nothing to import runs nothing")
	require.NoError(t, cmd.ImportDataset(ctx, "regnum", "/data/regnum.shp"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tiles modlct_2017 /s/a.hdf /s/b.hdf",
		"dataset regnum /data/regnum.shp",
	}, strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func TestCommand_FailureCarriesOutput(t *testing.T) {
	script := writeFile(t, "fail.sh", "#!/bin/sh\necho 'gdal: cannot open tile' >&2\nexit 3\n")
	cmd, err := NewCommand("/bin/sh "+script, discardLogger())
	require.NoError(t, err)

	err = cmd.ImportTiles(context.Background(), "modlct_2017", []string{"x.hdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open tile")
}

func TestNewCommand_Empty(t *testing.T) {
	_, err := NewCommand("  ", discardLogger())
	assert.ErrorIs(t, err, domain.ErrConfig)
}

// --- native importer ---

type fakeStore struct {
	detections map[string][]domain.FireDetection
	regions    map[string][]*spatial.Region
}

func (f *fakeStore) SaveDetections(_ context.Context, dataset string, d []domain.FireDetection) error {
	f.detections[dataset] = d
	return nil
}

func (f *fakeStore) PutRegions(_ context.Context, tag string, r []*spatial.Region) error {
	f.regions[tag] = r
	return nil
}

type recordingTiles struct {
	calls []string
}

func (r *recordingTiles) ImportTiles(_ context.Context, tag string, paths []string) error {
	r.calls = append(r.calls, tag+":"+strings.Join(paths, ","))
	return nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{detections: map[string][]domain.FireDetection{}, regions: map[string][]*spatial.Region{}}
}

func TestNative_ImportsFireDataset(t *testing.T) {
	store := newFakeStore()
	n := NewNative(store, nil, map[string]string{"regnum": "region_num"}, discardLogger())

	path := writeFile(t, "fire_archive_M6_96619.csv", modisCSV)
	require.NoError(t, n.ImportDataset(context.Background(), "af_fire_archive_m6_96619", path))
	assert.Len(t, store.detections["af_fire_archive_m6_96619"], 3)
}

func TestNative_EmptyFireFile(t *testing.T) {
	n := NewNative(newFakeStore(), nil, nil, discardLogger())
	path := writeFile(t, "fire_nrt_empty.csv", "latitude,longitude,acq_date,acq_time\n")
	err := n.ImportDataset(context.Background(), "af_fire_nrt_empty", path)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNative_TilesNeedCommand(t *testing.T) {
	n := NewNative(newFakeStore(), nil, nil, discardLogger())
	err := n.ImportTiles(context.Background(), "modlct_2017", []string{"a.hdf"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	tiles := &recordingTiles{}
	n = NewNative(newFakeStore(), tiles, nil, discardLogger())
	require.NoError(t, n.ImportTiles(context.Background(), "modlct_2017", []string{"a.hdf"}))
	assert.Equal(t, []string{"modlct_2017:a.hdf"}, tiles.calls)
}

func TestNative_RegionLayerNeedsShapefile(t *testing.T) {
	n := NewNative(newFakeStore(), nil, map[string]string{"regnum": "region_num"}, discardLogger())
	err := n.ImportDataset(context.Background(), "regnum", filepath.Join(t.TempDir(), "missing.shp"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
