package archive

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sumA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	sumB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	sumC = "cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

var manifestBody = strings.Join([]string{
	sumA + "  MCD12Q1.A2017001.h08v05.061.2022168005508.hdf",
	sumB + " *MCD12Q1.A2017001.h08v05.061.2022200000000.hdf",
	sumC + "  MCD12Q1.A2017001.h09v05.061.2022168005508.hdf",
	"",
}, "\n")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(baseURL string) *Client {
	return NewClient(baseURL, 5*time.Second, discardLogger())
}

// archiveServer serves one product directory and counts manifest requests.
func archiveServer(t *testing.T, manifestRequests *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/MCD12Q1/2017.01.01/SHA256SUMS":
			if manifestRequests != nil {
				*manifestRequests++
			}
			_, _ = w.Write([]byte(manifestBody))
		case "/MCD12Q1/2017.01.01/MCD12Q1.A2017001.h08v05.061.2022200000000.hdf":
			_, _ = w.Write([]byte("granule-bytes"))
		case "/MOD44B/2017.03.06/SHA256SUMS":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestArchive_ResolveLatestGranule(t *testing.T) {
	srv := archiveServer(t, nil)
	a := New(testClient(srv.URL), nil)

	res, err := a.Resolve(context.Background(), "modlct_2017", domain.TileID{H: 8, V: 5}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, "MCD12Q1.A2017001.h08v05.061.2022200000000.hdf", res.Name)
	assert.Equal(t, sumB, res.SHA256)
	assert.Equal(t, srv.URL+"/MCD12Q1/2017.01.01/"+res.Name, res.URL)
	assert.Equal(t, time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), res.Date)

	var buf bytes.Buffer
	require.NoError(t, a.Download(context.Background(), res, &buf))
	assert.Equal(t, "granule-bytes", buf.String())
}

func TestArchive_TileMissingFromManifest(t *testing.T) {
	srv := archiveServer(t, nil)
	a := New(testClient(srv.URL), nil)

	_, err := a.Resolve(context.Background(), "modlct_2017", domain.TileID{H: 30, V: 1}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchive_MissingDirectoryIsNotFound(t *testing.T) {
	srv := archiveServer(t, nil)
	a := New(testClient(srv.URL), nil)

	_, err := a.Resolve(context.Background(), "modlct_2018", domain.TileID{H: 8, V: 5}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrUnavailable)
}

func TestArchive_ServerErrorIsUnavailable(t *testing.T) {
	srv := archiveServer(t, nil)
	a := New(testClient(srv.URL), nil)

	_, err := a.Resolve(context.Background(), "modvcf_2017", domain.TileID{H: 8, V: 5}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestArchive_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := New(testClient(url), nil)
	_, err := a.Resolve(context.Background(), "modlct_2017", domain.TileID{H: 8, V: 5}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestArchive_UnknownTagIsConfigError(t *testing.T) {
	a := New(testClient("http://archive.invalid"), nil)
	_, err := a.Resolve(context.Background(), "landcover", domain.TileID{}, time.Time{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestClient_DownloadNotFound(t *testing.T) {
	srv := archiveServer(t, nil)
	c := testClient(srv.URL)

	err := c.Download(context.Background(), domain.Resource{Name: "x.hdf", URL: srv.URL + "/nope/x.hdf"}, io.Discard)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseManifest(t *testing.T) {
	entries, err := parseManifest(strings.NewReader("# comment\n\n" + manifestBody))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "MCD12Q1.A2017001.h08v05.061.2022168005508.hdf", entries[0].Name)
	assert.Equal(t, "MCD12Q1.A2017001.h08v05.061.2022200000000.hdf", entries[1].Name, "binary marker stripped")

	_, err = parseManifest(strings.NewReader("deadbeef file.hdf\n"))
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestManifest_Lookup(t *testing.T) {
	m := Manifest{Entries: []Entry{
		{Name: "MCD12Q1.A2017001.h08v05.061.1.hdf"},
		{Name: "MCD12Q1.A2017001.h08v05.061.3.hdf"},
		{Name: "MCD12Q1.A2017001.h08v05.061.2.hdf"},
	}}
	e, ok := m.Lookup("MCD12Q1.A2017001.h08v05.")
	require.True(t, ok)
	assert.Equal(t, "MCD12Q1.A2017001.h08v05.061.3.hdf", e.Name)

	_, ok = m.Lookup("MCD12Q1.A2017001.h08v06.")
	assert.False(t, ok)
}

func TestClient_DirURL(t *testing.T) {
	c := testClient("https://archive.test/MOTA/")
	date := time.Date(2017, 3, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "https://archive.test/MOTA/MOD44B/2017.03.06", c.DirURL("MOD44B", date))
}
