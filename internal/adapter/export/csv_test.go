package export

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/couchcryptid/finn-preprocessor/internal/join"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var layers = []domain.LayerConfig{
	{Tag: "modlct_2017", Kind: domain.LayerThematic, Variable: "lct"},
	{Tag: "regnum", Kind: domain.LayerPolygons, Variable: "regnum", VariableIn: "region_num"},
}

func record(id string, lct, frac, region string) join.OutputRecord {
	return join.OutputRecord{
		EventID:    id,
		FirstDay:   "2017-08-01",
		LastDay:    "2017-08-02",
		Detections: 3,
		Geometry:   "POLYGON((0 0,1 0,0 1,0 0))",
		Attributes: []join.Attribute{
			{Name: "v_lct", Value: lct},
			{Name: "f_lct", Value: frac},
			{Name: "v_regnum", Value: region},
		},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSV_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	c := NewCSV(dir, layers, slog.New(slog.NewTextHandler(io.Discard, nil)))

	records := []join.OutputRecord{record("evt-1", "forest", "0.7000", "10"), record("evt-2", "", "", "")}
	require.NoError(t, c.Export(context.Background(), "af_sample", records))

	rows := readCSV(t, c.Path("af_sample"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"event_id", "first_day", "last_day", "n_detections", "geometry", "v_lct", "f_lct", "v_regnum"}, rows[0])
	assert.Equal(t, []string{"evt-1", "2017-08-01", "2017-08-02", "3", "POLYGON((0 0,1 0,0 1,0 0))", "forest", "0.7000", "10"}, rows[1])
	assert.Equal(t, "", rows[2][5], "null attribute is an empty cell")

	// Re-export replaces the file.
	require.NoError(t, c.Export(context.Background(), "af_sample", records[:1]))
	assert.Len(t, readCSV(t, c.Path("af_sample")), 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestCSV_ColumnMismatch(t *testing.T) {
	c := NewCSV(t.TempDir(), layers[:1], slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.Export(context.Background(), "af_sample", []join.OutputRecord{record("evt-1", "forest", "0.7000", "10")})
	assert.ErrorIs(t, err, domain.ErrConfig)
	_, statErr := os.Stat(c.Path("af_sample"))
	assert.True(t, os.IsNotExist(statErr))
}
