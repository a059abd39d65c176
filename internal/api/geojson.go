package api

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/model"
)

// geoJSON serves a level as a FeatureCollection. Geographies stored without
// a polygon, such as the citywide total, are left out.
func (s *Server) geoJSON(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.geographies(w, r)
	if !ok {
		return
	}
	fc, err := featureCollection(rows)
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		s.log.Warn("write geojson", zap.Error(err))
	}
}

func featureCollection(rows []model.GeographyResult) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for _, g := range rows {
		if len(g.Geometry) == 0 {
			continue
		}
		geom, err := ewkb.Unmarshal(g.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "api: decode geometry of %s", g.Key)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       g.Key,
			Geometry: geom,
			Properties: map[string]any{
				"level":                g.Level,
				"parents":              g.Parents,
				"demographics_count":   g.Counts,
				"demographics_percent": g.Percents,
				"total":                g.Total,
				"block_groups":         g.BlockGroups,
			},
		})
	}
	return fc, nil
}
