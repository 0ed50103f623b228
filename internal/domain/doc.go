// Package domain models active-fire detections, the raster tiles they are
// attributed against, and the fire events produced by grouping them.
//
// # Data Sources
//
// Fire detections come from NASA FIRMS point products: the MODIS Collection 6
// archive downloads (fire_archive_M6_<request>.shp), the VIIRS archive
// downloads (fire_archive_SV-C2_<request>.shp, fire_archive_J1V-C2_<request>.shp)
// and the near-real-time 24h/48h/7d global files. An external importer loads
// each file into the spatial store under a dataset tag derived from its
// filename by the naming convention table in naming.go.
//
// Land-surface attributes come from MODIS tiled products on the sinusoidal
// grid, resampled by the importer to geographic coordinates:
//
//	MCD12Q1  land cover type, one file per tile per year, day 001
//	MOD44B   vegetation continuous fields (tree, herb, bare), day 065
//
// plus a non-tiled region polygon layer (regnum) used to key emission factors.
//
// # Tile Grid
//
// Tiles are addressed by horizontal and vertical indices, "h08v05" style. The
// MODIS grid is 36 columns by 18 rows of 10 degree cells on the sinusoidal
// projection: v counts south from the north pole by latitude and h counts
// east from -180 by x = lon·cos(lat), so (-120, 45) falls in h09v04.
//
// # Time
//
// Acquisition times are UTC. Grouping windows are computed from UTC day
// boundaries; FireEvent.FirstDay and LastDay are truncated to midnight UTC.
//
// # ID Generation
//
// Event IDs are deterministic SHA-256 hashes of the sorted member detection
// IDs, so regrouping identical input yields identical IDs and downstream
// upserts stay idempotent. See [EventID].
package domain
