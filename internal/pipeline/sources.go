package pipeline

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/censusify/internal/arcgis"
	"github.com/sells-group/censusify/internal/census"
	"github.com/sells-group/censusify/internal/config"
	"github.com/sells-group/censusify/internal/fetcher"
	"github.com/sells-group/censusify/internal/resilience"
	"github.com/sells-group/censusify/internal/tiger"
)

// FeatureSource queries polygon feature layers.
type FeatureSource interface {
	Query(ctx context.Context, q arcgis.Query) ([]arcgis.Feature, error)
}

// CensusSource downloads raw block-group tables.
type CensusSource interface {
	FetchRaw(ctx context.Context, q census.Query) ([]byte, error)
}

// TigerSource loads block-group polygons from TIGER/Line shapefiles.
type TigerSource interface {
	LoadBlockGroups(ctx context.Context, year int, stateFIPS, countyFIPS string) ([]tiger.BlockGroupFeature, error)
	// Download fetches the state archive without reading it and returns the
	// extracted .shp path.
	Download(ctx context.Context, year int, stateFIPS string) (string, error)
}

// Sources bundles the upstream clients a Pipeline reads from.
type Sources struct {
	Features FeatureSource
	Census   CensusSource
	Tiger    TigerSource
}

// NewSources builds HTTP/FTP backed clients from cfg.
func NewSources(cfg *config.Config) *Sources {
	f := NewFetcher(cfg.Fetch)
	return &Sources{
		Features: arcgis.NewClient(f),
		Census:   census.NewClient(f, cfg.Census.BaseURL),
		Tiger:    &tigerLoader{fetcher: f, baseURL: cfg.BlockGroups.TigerURL, tempDir: cfg.BlockGroups.TempDir},
	}
}

// NewFetcher returns a fetcher that routes ftp:// URLs to FTP and
// everything else to the rate-limited HTTP client.
func NewFetcher(cfg config.FetchConfig) fetcher.Fetcher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	retry := resilience.DefaultRetryConfig().WithAttempts(cfg.MaxRetries)
	retry.OnRetry = resilience.RetryLogger("fetch", "download")

	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.UserAgent,
		Timeout:      timeout,
		Retry:        retry,
		RatePerSec:   cfg.RatePerSec,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
	return fetcher.NewSchemeFetcher(httpF, fetcher.NewFTPFetcher(timeout))
}

type tigerLoader struct {
	fetcher fetcher.Fetcher
	baseURL string
	tempDir string
}

func (t *tigerLoader) LoadBlockGroups(ctx context.Context, year int, stateFIPS, countyFIPS string) ([]tiger.BlockGroupFeature, error) {
	return tiger.LoadBlockGroups(ctx, t.fetcher, t.baseURL, year, stateFIPS, countyFIPS, t.tempDir)
}

func (t *tigerLoader) Download(ctx context.Context, year int, stateFIPS string) (string, error) {
	return tiger.Download(ctx, t.fetcher, tiger.BlockGroupURL(t.baseURL, year, stateFIPS), t.tempDir)
}

// attrFloat reads a numeric attribute that may arrive as a number or as a
// signed string such as "+39.9526".
func attrFloat(attrs map[string]any, field string) (float64, bool) {
	switch v := attrs[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// centroidOf returns [lon, lat] from CENTLON/CENTLAT, or nil.
func centroidOf(attrs map[string]any) []float64 {
	lon, okLon := attrFloat(attrs, "CENTLON")
	lat, okLat := attrFloat(attrs, "CENTLAT")
	if !okLon || !okLat {
		return nil
	}
	return []float64{lon, lat}
}
