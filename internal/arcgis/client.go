// Package arcgis queries ArcGIS REST feature services for polygon layers:
// police boundaries, custom regions and TIGERweb block groups.
package arcgis

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/fetcher"
)

const maxPages = 500

// DefaultOrderBy is the ordering field used when a query names none.
const DefaultOrderBy = "OBJECTID"

// Query describes one feature layer request. URL is the layer's query
// endpoint, e.g. .../FeatureServer/0/query.
type Query struct {
	URL       string
	Where     string
	OutFields []string
	// OrderBy keeps page boundaries stable across resultOffset requests.
	OrderBy string
}

// Feature is one polygon feature.
type Feature struct {
	Attributes map[string]any
	Rings      [][][]float64
}

// Ring returns the feature's outer ring, or nil when it has no geometry.
func (f Feature) Ring() [][]float64 {
	if len(f.Rings) == 0 {
		return nil
	}
	return f.Rings[0]
}

type response struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
		Geometry   *struct {
			Rings [][][]float64 `json:"rings"`
		} `json:"geometry"`
	} `json:"features"`
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Error                 *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

// Client queries feature services.
type Client struct {
	fetcher fetcher.Fetcher
	log     *zap.Logger
}

// NewClient creates a Client that downloads through f.
func NewClient(f fetcher.Fetcher) *Client {
	return &Client{
		fetcher: f,
		log:     zap.L().With(zap.String("component", "arcgis")),
	}
}

// QueryURL builds the request URL for q starting at offset.
func QueryURL(q Query, offset int) (string, error) {
	u, err := url.Parse(q.URL)
	if err != nil {
		return "", eris.Wrap(err, "arcgis: parse url")
	}
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	fields := "*"
	if len(q.OutFields) > 0 {
		fields = strings.Join(q.OutFields, ",")
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = DefaultOrderBy
	}

	v := u.Query()
	v.Set("where", where)
	v.Set("outFields", fields)
	v.Set("returnGeometry", "true")
	v.Set("inSR", "4326")
	v.Set("outSR", "4326")
	v.Set("f", "json")
	v.Set("orderByFields", orderBy)
	if offset > 0 {
		v.Set("resultOffset", strconv.Itoa(offset))
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// Query returns every feature matching q, following pagination while the
// service reports exceededTransferLimit.
func (c *Client) Query(ctx context.Context, q Query) ([]Feature, error) {
	var features []Feature
	for page := 0; page < maxPages; page++ {
		reqURL, err := QueryURL(q, len(features))
		if err != nil {
			return nil, err
		}
		resp, err := fetcher.FetchJSON[response](ctx, c.fetcher, reqURL)
		if err != nil {
			return nil, eris.Wrapf(err, "arcgis: query %s", q.URL)
		}
		if resp.Error != nil {
			return nil, eris.Errorf("arcgis: query %s: %d %s %s",
				q.URL, resp.Error.Code, resp.Error.Message, strings.Join(resp.Error.Details, "; "))
		}

		for _, f := range resp.Features {
			feat := Feature{Attributes: f.Attributes}
			if f.Geometry != nil {
				feat.Rings = f.Geometry.Rings
			}
			features = append(features, feat)
		}

		c.log.Debug("fetched page",
			zap.String("url", q.URL),
			zap.Int("page", page),
			zap.Int("features", len(resp.Features)),
		)
		if !resp.ExceededTransferLimit || len(resp.Features) == 0 {
			return features, nil
		}
	}
	return nil, eris.Errorf("arcgis: query %s: more than %d pages", q.URL, maxPages)
}
