package tiger

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of every geometry this package reads and writes.
const SRID = 4326

// EncodeRing converts a polygon ring to EWKB MultiPolygon bytes, the form
// PostGIS geometry(MultiPolygon, 4326) columns accept. The ring is closed if
// needed. A nil ring encodes to nil.
func EncodeRing(ring [][]float64) ([]byte, error) {
	if len(ring) == 0 {
		return nil, nil
	}
	flat := make([]float64, 0, 2*len(ring)+2)
	for _, p := range ring {
		if len(p) < 2 {
			return nil, eris.New("tiger: ring vertex needs two ordinates")
		}
		flat = append(flat, p[0], p[1])
	}
	if n := len(flat); flat[0] != flat[n-2] || flat[1] != flat[n-1] {
		flat = append(flat, flat[0], flat[1])
	}

	poly := geom.NewPolygon(geom.XY)
	if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
		return nil, eris.Wrap(err, "tiger: build polygon")
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(SRID)
	if err := mp.Push(poly); err != nil {
		return nil, eris.Wrap(err, "tiger: build multipolygon")
	}

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode EWKB")
	}
	return data, nil
}

// DecodeRing returns the first ring of an EWKB polygon or multipolygon.
func DecodeRing(data []byte) ([][]float64, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: decode EWKB")
	}
	var poly *geom.Polygon
	switch t := g.(type) {
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return nil, nil
		}
		poly = t.Polygon(0)
	case *geom.Polygon:
		poly = t
	default:
		return nil, eris.Errorf("tiger: unexpected geometry %T", g)
	}
	if poly.NumLinearRings() == 0 {
		return nil, nil
	}
	coords := poly.LinearRing(0).Coords()
	ring := make([][]float64, len(coords))
	for i, c := range coords {
		ring[i] = []float64{c[0], c[1]}
	}
	return ring, nil
}
