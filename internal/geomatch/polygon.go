package geomatch

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
)

// NewPolygon builds a closed, counter-clockwise polygon from one ring of
// [x, y] vertices. The closing vertex is optional.
func NewPolygon(id string, ring [][]float64) (*geom.Polygon, error) {
	degenerate := func(format string, args ...any) error {
		return &DegenerateGeometryError{ID: id, Reason: fmt.Sprintf(format, args...)}
	}
	if len(ring) == 0 {
		return nil, degenerate("empty ring")
	}

	coords := make([]geom.Coord, 0, len(ring)+1)
	for i, p := range ring {
		if len(p) < 2 {
			return nil, degenerate("vertex %d has %d ordinates", i, len(p))
		}
		x, y := p[0], p[1]
		if !finite(x) || !finite(y) {
			return nil, degenerate("vertex %d is not finite", i)
		}
		if n := len(coords); n > 0 && coords[n-1][0] == x && coords[n-1][1] == y {
			continue
		}
		coords = append(coords, geom.Coord{x, y})
	}
	if n := len(coords); n > 1 && coords[0][0] == coords[n-1][0] && coords[0][1] == coords[n-1][1] {
		coords = coords[:n-1]
	}

	distinct := make(map[[2]float64]struct{}, len(coords))
	for _, c := range coords {
		distinct[[2]float64{c[0], c[1]}] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, degenerate("%d distinct vertices", len(distinct))
	}

	area := signedArea(coords)
	if area == 0 {
		return nil, degenerate("zero area")
	}
	if area < 0 {
		for i, j := 0, len(coords)-1; i < j; i, j = i+1, j-1 {
			coords[i], coords[j] = coords[j], coords[i]
		}
	}
	coords = append(coords, coords[0])

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return nil, degenerate("%v", err)
	}
	return poly, nil
}

// signedArea is positive for counter-clockwise rings. The ring is open.
func signedArea(coords []geom.Coord) float64 {
	var s float64
	for i := range coords {
		j := (i + 1) % len(coords)
		s += coords[i][0]*coords[j][1] - coords[j][0]*coords[i][1]
	}
	return s / 2
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
