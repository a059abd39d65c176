package tiger

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BlockGroupFeature is one block group polygon from a shapefile.
type BlockGroupFeature struct {
	GEOID string
	// Centroid is the internal point [lon, lat]; nil when absent.
	Centroid []float64
	// Ring is the outer ring of the first part.
	Ring [][]float64
}

// ReadBlockGroups reads block group polygons from shpPath. When countyFIPS
// is set, other counties are skipped.
func ReadBlockGroups(shpPath, countyFIPS string) ([]BlockGroupFeature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		fieldIdx[strings.ToUpper(strings.TrimRight(f.String(), "\x00"))] = i
	}
	if _, ok := fieldIdx[FieldGEOID]; !ok {
		return nil, eris.Errorf("tiger: %s has no %s field", shpPath, FieldGEOID)
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
	}

	var out []BlockGroupFeature
	var skipped int
	for reader.Next() {
		if countyFIPS != "" && attr(FieldCounty) != countyFIPS {
			continue
		}
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 {
			skipped++
			continue
		}
		out = append(out, BlockGroupFeature{
			GEOID:    attr(FieldGEOID),
			Centroid: internalPoint(attr(FieldIntPtLon), attr(FieldIntPtLat)),
			Ring:     firstRing(poly),
		})
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped records without polygon", zap.Int("skipped", skipped))
	}
	return out, nil
}

// internalPoint parses TIGER's signed "+39.9526" style coordinates.
func internalPoint(lon, lat string) []float64 {
	x, errX := strconv.ParseFloat(lon, 64)
	y, errY := strconv.ParseFloat(lat, 64)
	if errX != nil || errY != nil {
		return nil
	}
	return []float64{x, y}
}

func firstRing(p *shp.Polygon) [][]float64 {
	end := int32(len(p.Points))
	if p.NumParts > 1 {
		end = p.Parts[1]
	}
	ring := make([][]float64, 0, end-p.Parts[0])
	for _, pt := range p.Points[p.Parts[0]:end] {
		ring = append(ring, []float64{pt.X, pt.Y})
	}
	return ring
}
