// Package archive talks to the remote raster archive over HTTP.
//
// The archive publishes one directory per product and acquisition date:
//
//	<base>/<product>/<YYYY.MM.DD>/SHA256SUMS
//	<base>/<product>/<YYYY.MM.DD>/<granule file>
//
// SHA256SUMS lists "<sha256>  <file>" per line. A tile's granule is the file
// whose name starts with the product's granule prefix for that tile.
package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// Entry is one manifest line.
type Entry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
}

// Manifest is the checksum listing of one product directory.
type Manifest struct {
	Product string    `json:"product"`
	Date    time.Time `json:"date"`
	Entries []Entry   `json:"entries"`
}

// Lookup returns the entry whose name starts with prefix. When the archive
// holds several production runs of the same granule the latest name wins.
func (m Manifest) Lookup(prefix string) (Entry, bool) {
	var found Entry
	ok := false
	for _, e := range m.Entries {
		if strings.HasPrefix(e.Name, prefix) && (!ok || e.Name > found.Name) {
			found, ok = e, true
		}
	}
	return found, ok
}

// ManifestSource returns the manifest of a product directory.
type ManifestSource interface {
	Manifest(ctx context.Context, product string, date time.Time) (Manifest, error)
}

// Client fetches manifests and granules from the archive.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an archive client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// DirURL returns the directory URL for a product and date.
func (c *Client) DirURL(product string, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, product, date.Format("2006.01.02"))
}

// Manifest downloads and parses SHA256SUMS for a product directory.
func (c *Client) Manifest(ctx context.Context, product string, date time.Time) (Manifest, error) {
	resp, err := c.get(ctx, c.DirURL(product, date)+"/SHA256SUMS", "manifest")
	if err != nil {
		return Manifest{}, err
	}
	defer resp.Body.Close()

	entries, err := parseManifest(resp.Body)
	if err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s %s: %w", product, date.Format("2006.01.02"), err)
	}
	c.logger.Debug("manifest fetched", "product", product, "date", date.Format("2006-01-02"), "entries", len(entries))
	return Manifest{Product: product, Date: date, Entries: entries}, nil
}

// Download streams a granule into w.
func (c *Client) Download(ctx context.Context, res domain.Resource, w io.Writer) error {
	resp, err := c.get(ctx, res.URL, "granule")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read granule %s: %w: %w", res.Name, domain.ErrUnavailable, err)
	}
	return nil
}

// get issues a GET and classifies failures: 404 and 410 are ErrNotFound,
// transport errors and 5xx are ErrUnavailable.
func (c *Client) get(ctx context.Context, url, what string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s request: %w", what, ctx.Err())
		}
		return nil, fmt.Errorf("%s request: %w: %w", what, domain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", what, url, domain.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		err := fmt.Errorf("archive error: status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%s %s: %w: %w", what, url, domain.ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%s %s: %w", what, url, err)
	}
}

func parseManifest(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != 64 {
			return nil, fmt.Errorf("malformed manifest line %q: %w", line, domain.ErrIntegrity)
		}
		entries = append(entries, Entry{
			SHA256: strings.ToLower(fields[0]),
			Name:   strings.TrimPrefix(fields[1], "*"),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
