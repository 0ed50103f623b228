package domain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Convention maps input filenames of one dataset kind to store dataset tags.
// Matching is by literal prefix; a filename no convention claims is a
// configuration error rather than a best-effort guess.
type Convention struct {
	Kind     string
	Prefixes []string
	Tag      func(stem string) string
}

// Conventions is the naming table for active-fire inputs, checked in order.
var Conventions = []Convention{
	{
		Kind:     "modis_archive",
		Prefixes: []string{"fire_archive_"},
		Tag:      prefixedTag("af_"),
	},
	{
		Kind: "nrt",
		Prefixes: []string{
			"fire_nrt_",
			"MODIS_C6_Global_",
			"MODIS_C6_1_Global_",
			"SUOMI_VIIRS_C2_Global_",
			"J1_VIIRS_C2_Global_",
		},
		Tag: prefixedTag("af_nrt_"),
	},
	{
		Kind:     "sample",
		Prefixes: []string{"sample_"},
		Tag:      prefixedTag("af_"),
	},
}

// DatasetTag returns the store tag for an active-fire input file and the
// kind of convention that matched.
func DatasetTag(filename string) (tag, kind string, err error) {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	for _, c := range Conventions {
		for _, p := range c.Prefixes {
			if strings.HasPrefix(stem, p) {
				return c.Tag(stem), c.Kind, nil
			}
		}
	}
	return "", "", fmt.Errorf("no naming convention matches %q: %w", base, ErrConfig)
}

func prefixedTag(prefix string) func(string) string {
	return func(stem string) string {
		return prefix + normalizeIdent(stem)
	}
}

// normalizeIdent lowercases s and replaces anything outside [a-z0-9_] with '_'
// so the result is usable as a schema or table name.
func normalizeIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// RasterProduct describes a tiled MODIS product used as an attribute layer.
type RasterProduct struct {
	TagPrefix string // "modlct"
	Product   string // "MCD12Q1"
	DayOfYear int    // acquisition day within the year
}

// RasterProducts lists the tiled products the pipeline knows how to fetch.
var RasterProducts = []RasterProduct{
	{TagPrefix: "modlct", Product: "MCD12Q1", DayOfYear: 1},
	{TagPrefix: "modvcf", Product: "MOD44B", DayOfYear: 65},
}

// RegionTag is the tag of the non-tiled region polygon layer.
const RegionTag = "regnum"

// RasterTag builds a tag such as "modlct_2017".
func RasterTag(prefix string, year int) string {
	return fmt.Sprintf("%s_%d", prefix, year)
}

// ParseRasterTag resolves a raster tag to its product and acquisition date.
func ParseRasterTag(tag string) (RasterProduct, time.Time, error) {
	prefix, yearStr, ok := strings.Cut(tag, "_")
	if !ok {
		return RasterProduct{}, time.Time{}, fmt.Errorf("raster tag %q: missing year: %w", tag, ErrConfig)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 2000 || year > 2100 {
		return RasterProduct{}, time.Time{}, fmt.Errorf("raster tag %q: bad year: %w", tag, ErrConfig)
	}
	for _, p := range RasterProducts {
		if p.TagPrefix == prefix {
			date := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, p.DayOfYear-1)
			return p, date, nil
		}
	}
	return RasterProduct{}, time.Time{}, fmt.Errorf("raster tag %q: unknown product: %w", tag, ErrConfig)
}

// GranulePrefix is the filename prefix of a product tile, for example
// "MCD12Q1.A2017001.h08v05.". The collection and production stamp that follow
// are resolved from the archive manifest.
func (p RasterProduct) GranulePrefix(date time.Time, id TileID) string {
	return fmt.Sprintf("%s.A%04d%03d.%s.", p.Product, date.Year(), date.YearDay(), id)
}
