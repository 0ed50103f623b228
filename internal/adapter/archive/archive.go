package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/couchcryptid/finn-preprocessor/internal/domain"
)

// Archive resolves raster tiles to granules using a manifest source, which is
// usually a CachedManifests around the Client.
type Archive struct {
	client    *Client
	manifests ManifestSource
}

// New creates an Archive. A nil manifests reads manifests from client.
func New(client *Client, manifests ManifestSource) *Archive {
	if manifests == nil {
		manifests = client
	}
	return &Archive{client: client, manifests: manifests}
}

// Resolve finds the granule for one tile. A zero date means the acquisition
// date implied by the tag.
func (a *Archive) Resolve(ctx context.Context, tag string, id domain.TileID, date time.Time) (domain.Resource, error) {
	product, tagDate, err := domain.ParseRasterTag(tag)
	if err != nil {
		return domain.Resource{}, err
	}
	if date.IsZero() {
		date = tagDate
	}

	m, err := a.manifests.Manifest(ctx, product.Product, date)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("resolve %s %s: %w", tag, id, err)
	}
	prefix := product.GranulePrefix(date, id)
	entry, ok := m.Lookup(prefix)
	if !ok {
		return domain.Resource{}, fmt.Errorf("no granule %s*: %w", prefix, domain.ErrNotFound)
	}

	return domain.Resource{
		Tag:    tag,
		Tile:   id,
		Date:   date,
		Name:   entry.Name,
		URL:    a.client.DirURL(product.Product, date) + "/" + entry.Name,
		SHA256: entry.SHA256,
	}, nil
}

// Download streams a resolved granule into w.
func (a *Archive) Download(ctx context.Context, res domain.Resource, w io.Writer) error {
	return a.client.Download(ctx, res, w)
}
