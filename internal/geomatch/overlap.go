package geomatch

import (
	"math"
	"sort"
	"strings"

	sfgeom "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
)

// MinOverlapArea is the intersection area, in squared coordinate units, at or
// below which a block group does not qualify under AreaOverlap.
const MinOverlapArea = 1e-6

// Relationship selects how block groups qualify for a target.
type Relationship string

const (
	// AreaOverlap weights a block group by the share of its area inside the
	// target.
	AreaOverlap Relationship = "pct_overlap"
	// CentroidWithin assigns a whole block group to the target containing its
	// centroid.
	CentroidWithin Relationship = "centroid_is_within"
)

// ParseRelationship accepts the canonical names and the short aliases
// "area" and "centroid".
func ParseRelationship(s string) (Relationship, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(AreaOverlap), "area":
		return AreaOverlap, nil
	case string(CentroidWithin), "centroid":
		return CentroidWithin, nil
	default:
		return "", eris.Errorf("geomatch: unknown relationship %q", s)
	}
}

// Shape is a block group polygon with its representative point.
type Shape struct {
	GEOID    string
	Polygon  *geom.Polygon
	Centroid geom.Coord
	area     float64
}

// NewShape validates a block group ring. A nil centroid is computed from the
// polygon.
func NewShape(geoid string, ring [][]float64, centroid []float64) (Shape, error) {
	poly, err := NewPolygon(geoid, ring)
	if err != nil {
		return Shape{}, err
	}
	var c geom.Coord
	if len(centroid) >= 2 && finite(centroid[0]) && finite(centroid[1]) {
		c = geom.Coord{centroid[0], centroid[1]}
	} else {
		c, err = xy.Centroid(poly)
		if err != nil {
			return Shape{}, &DegenerateGeometryError{ID: geoid, Reason: err.Error()}
		}
	}
	return Shape{GEOID: geoid, Polygon: poly, Centroid: c, area: poly.Area()}, nil
}

// Area returns the block group's own area.
func (s Shape) Area() float64 {
	if s.area == 0 && s.Polygon != nil {
		return s.Polygon.Area()
	}
	return s.area
}

// Weights maps qualifying block group GEOIDs to weights in (0, 1].
type Weights map[string]float64

// GEOIDs returns the weighted identifiers in ascending order.
func (w Weights) GEOIDs() []string {
	ids := make([]string, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ComputeWeights finds the block groups that qualify for target under rel.
func ComputeWeights(target *geom.Polygon, shapes []Shape, rel Relationship) (Weights, error) {
	if len(shapes) == 0 {
		return nil, eris.New("geomatch: no block group shapes")
	}
	if target == nil || target.NumLinearRings() == 0 {
		return nil, &DegenerateGeometryError{Reason: "empty target"}
	}

	bounds := target.Bounds()
	ring := target.LinearRing(0).FlatCoords()
	overlay := overlayPolygon(target)
	weights := make(Weights)

	for _, s := range shapes {
		switch rel {
		case AreaOverlap:
			if !bounds.Overlaps(geom.XY, s.Polygon.Bounds()) {
				continue
			}
			area, err := overlapArea(overlay, s.Polygon)
			if err != nil {
				return nil, &DegenerateGeometryError{ID: s.GEOID, Reason: err.Error()}
			}
			if area <= MinOverlapArea {
				continue
			}
			// Overlay rounding can leave a contained block group a hair above 1.
			weights[s.GEOID] = math.Min(area/s.Area(), 1)
		case CentroidWithin:
			if xy.LocatePointInRing(geom.XY, s.Centroid, ring) == location.Interior {
				weights[s.GEOID] = 1
			}
		default:
			return nil, eris.Errorf("geomatch: unknown relationship %q", rel)
		}
	}
	return weights, nil
}

// IntersectionArea returns the area shared by two polygons. Only the outer
// rings are considered.
func IntersectionArea(a, b *geom.Polygon) (float64, error) {
	return overlapArea(overlayPolygon(a), b)
}

func overlapArea(a sfgeom.Geometry, b *geom.Polygon) (float64, error) {
	inter, err := sfgeom.Intersection(a, overlayPolygon(b))
	if err != nil {
		return 0, eris.Wrap(err, "geomatch: polygon intersection")
	}
	return inter.Area(), nil
}

// overlayPolygon converts the outer ring of p for the overlay engine. Rings
// built by NewPolygon are already closed.
func overlayPolygon(p *geom.Polygon) sfgeom.Geometry {
	return sfgeom.NewPolygonXY(p.LinearRing(0).FlatCoords()).AsGeometry()
}
