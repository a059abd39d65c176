// Package tiger loads census block-group polygons from TIGER/Line
// shapefiles.
package tiger

import "fmt"

// DefaultBaseURL serves TIGER/Line archives over HTTPS. The same tree is
// mirrored at ftp://ftp2.census.gov/geo/tiger.
const DefaultBaseURL = "https://www2.census.gov/geo/tiger"

// Block group shapefile attribute names.
const (
	FieldGEOID    = "GEOID"
	FieldCounty   = "COUNTYFP"
	FieldIntPtLat = "INTPTLAT"
	FieldIntPtLon = "INTPTLON"
)

// BlockGroupURL returns the block group archive for one state, e.g.
// .../TIGER2020/BG/tl_2020_42_bg.zip.
func BlockGroupURL(baseURL string, year int, stateFIPS string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s/TIGER%d/BG/tl_%d_%s_bg.zip", baseURL, year, year, stateFIPS)
}
