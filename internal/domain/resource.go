package domain

import "time"

// Resource is a remote archive file resolved for one tile, with the checksum
// its manifest publishes.
type Resource struct {
	Tag    string    `json:"tag"`
	Tile   TileID    `json:"tile"`
	Date   time.Time `json:"date"`
	Name   string    `json:"name"`
	URL    string    `json:"url"`
	SHA256 string    `json:"sha256"`
	Size   int64     `json:"size,omitempty"`
}
