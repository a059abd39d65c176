// Package census downloads block-group population tables from the Census
// Data API and converts them to demographic raw rows.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/censusify/internal/demographics"
	"github.com/sells-group/censusify/internal/fetcher"
)

// DefaultBaseURL is the Census Data API root.
const DefaultBaseURL = "https://api.census.gov/data"

// Identifier columns of a block-group response.
const (
	colName       = "NAME"
	colGeoID      = "GEO_ID"
	colState      = "state"
	colCounty     = "county"
	colTract      = "tract"
	colBlockGroup = "block group"
)

// Query selects variables for every block group of one county.
type Query struct {
	Year      int
	Dataset   string // e.g. "dec/pl"
	State     string
	County    string
	Variables []string
	Key       string
}

// Client fetches block-group tables.
type Client struct {
	fetcher fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewClient creates a Client. An empty baseURL means DefaultBaseURL.
func NewClient(f fetcher.Fetcher, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "census")),
	}
}

// URL builds the request URL for q.
func (c *Client) URL(q Query) string {
	u := fmt.Sprintf("%s/%d/%s?get=%s,%s&for=block%%20group:*&in=state:%s%%20county:%s%%20tract:*",
		c.baseURL, q.Year, q.Dataset, colName, strings.Join(q.Variables, ","), q.State, q.County)
	if q.Key != "" {
		u += "&key=" + url.QueryEscape(q.Key)
	}
	return u
}

// FetchRaw downloads the JSON response body for q.
func (c *Client) FetchRaw(ctx context.Context, q Query) ([]byte, error) {
	if len(q.Variables) == 0 {
		return nil, eris.New("census: no variables requested")
	}
	body, err := c.fetcher.Download(ctx, c.URL(q))
	if err != nil {
		return nil, eris.Wrapf(err, "census: fetch %d %s", q.Year, q.Dataset)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "census: read response")
	}
	c.log.Debug("fetched block groups",
		zap.String("state", q.State),
		zap.String("county", q.County),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

// Fetch downloads and parses the block-group rows for q.
func (c *Client) Fetch(ctx context.Context, q Query) ([]demographics.RawRow, error) {
	data, err := c.FetchRaw(ctx, q)
	if err != nil {
		return nil, err
	}
	return ParseResponse(data)
}

// ParseResponse parses a Census API array-of-arrays response whose first row
// is the header.
func ParseResponse(data []byte) ([]demographics.RawRow, error) {
	var raw [][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "census: unmarshal response")
	}
	if len(raw) == 0 {
		return nil, eris.New("census: empty response")
	}
	header := deref(raw[0])
	rows := make([][]string, 0, len(raw)-1)
	for _, r := range raw[1:] {
		rows = append(rows, deref(r))
	}
	return ParseTable(header, rows)
}

// ReadCSV parses a local CSV export with the same columns as the API.
func ReadCSV(ctx context.Context, r io.Reader) ([]demographics.RawRow, error) {
	header, rows, err := fetcher.ReadCSV(ctx, r)
	if err != nil {
		return nil, eris.Wrap(err, "census: read csv")
	}
	return ParseTable(header, rows)
}

// ParseTable converts header + rows to raw rows. Every non-identifier column
// must hold an integer.
func ParseTable(header []string, rows [][]string) ([]demographics.RawRow, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, col := range []string{colState, colCounty, colTract, colBlockGroup} {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("census: response missing %q column", col)
		}
	}

	out := make([]demographics.RawRow, 0, len(rows))
	for n, rec := range rows {
		if len(rec) != len(header) {
			return nil, eris.Errorf("census: row %d has %d fields, header has %d", n+1, len(rec), len(header))
		}
		row := demographics.RawRow{
			State:      rec[idx[colState]],
			County:     rec[idx[colCounty]],
			Tract:      rec[idx[colTract]],
			BlockGroup: rec[idx[colBlockGroup]],
			Values:     make(map[string]int64, len(header)),
		}
		if i, ok := idx[colName]; ok {
			row.Name = rec[i]
		}
		for i, h := range header {
			switch h {
			case colName, colGeoID, colState, colCounty, colTract, colBlockGroup:
				continue
			}
			v, err := strconv.ParseInt(strings.TrimSpace(rec[i]), 10, 64)
			if err != nil {
				return nil, eris.Wrapf(err, "census: row %d column %s", n+1, h)
			}
			row.Values[h] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func deref(in []*string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		if s != nil {
			out[i] = *s
		}
	}
	return out
}
