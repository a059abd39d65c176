package tiger

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/censusify/internal/fetcher"
	"github.com/sells-group/censusify/internal/resilience"
)

type bgRecord struct {
	geoid, county, lat, lon string
	ring                    []shp.Point
}

// writeShapefile writes a block group shapefile and returns the .shp path.
func writeShapefile(t *testing.T, dir string, records []bgRecord) string {
	t.Helper()
	path := filepath.Join(dir, "tl_2020_42_bg.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("GEOID", 12),
		shp.StringField("COUNTYFP", 3),
		shp.StringField("INTPTLAT", 11),
		shp.StringField("INTPTLON", 12),
	}))
	for _, r := range records {
		n := int(w.Write((*shp.Polygon)(shp.NewPolyLine([][]shp.Point{r.ring}))))
		require.NoError(t, w.WriteAttribute(n, 0, r.geoid))
		require.NoError(t, w.WriteAttribute(n, 1, r.county))
		require.NoError(t, w.WriteAttribute(n, 2, r.lat))
		require.NoError(t, w.WriteAttribute(n, 3, r.lon))
	}
	w.Close()
	return path
}

func square(x, y, size float64) []shp.Point {
	return []shp.Point{{X: x, Y: y}, {X: x, Y: y + size}, {X: x + size, Y: y + size}, {X: x + size, Y: y}, {X: x, Y: y}}
}

func sampleRecords() []bgRecord {
	return []bgRecord{
		{"421010001001", "101", "+39.9550000", "-075.1650000", square(-75.17, 39.95, 0.01)},
		{"421010001002", "101", "", "", square(-75.16, 39.95, 0.01)},
		{"420450001001", "045", "+39.9000000", "-075.3000000", square(-75.31, 39.89, 0.01)},
	}
}

func TestReadBlockGroups(t *testing.T) {
	path := writeShapefile(t, t.TempDir(), sampleRecords())

	bgs, err := ReadBlockGroups(path, "101")
	require.NoError(t, err)
	require.Len(t, bgs, 2)

	assert.Equal(t, "421010001001", bgs[0].GEOID)
	require.Len(t, bgs[0].Centroid, 2)
	assert.InDelta(t, -75.165, bgs[0].Centroid[0], 1e-9)
	assert.InDelta(t, 39.955, bgs[0].Centroid[1], 1e-9)
	assert.Len(t, bgs[0].Ring, 5)
	assert.Nil(t, bgs[1].Centroid)

	all, err := ReadBlockGroups(path, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReadBlockGroupsMissingFile(t *testing.T) {
	_, err := ReadBlockGroups(filepath.Join(t.TempDir(), "missing.shp"), "")
	assert.Error(t, err)
}

func zipDir(t *testing.T, dir string) []byte {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "bg.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		w, err := zw.Create(e.Name())
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(zipPath)
	require.NoError(t, err)
	return data
}

func TestLoadBlockGroupsDownloadsOnce(t *testing.T) {
	srcDir := t.TempDir()
	writeShapefile(t, srcDir, sampleRecords())
	archive := zipDir(t, srcDir)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/TIGER2020/BG/tl_2020_42_bg.zip", r.URL.Path)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: 5 * time.Second, Retry: resilience.RetryConfig{MaxAttempts: 1}})
	dest := t.TempDir()

	bgs, err := LoadBlockGroups(context.Background(), f, srv.URL, 2020, "42", "101", dest)
	require.NoError(t, err)
	assert.Len(t, bgs, 2)

	_, err = LoadBlockGroups(context.Background(), f, srv.URL, 2020, "42", "045", dest)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDownloadNoShapefile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	archive := zipDir(t, dir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Retry: resilience.RetryConfig{MaxAttempts: 1}})
	_, err := Download(context.Background(), f, srv.URL+"/empty.zip", t.TempDir())
	assert.Error(t, err)
}

func TestBlockGroupURL(t *testing.T) {
	assert.Equal(t,
		"https://www2.census.gov/geo/tiger/TIGER2020/BG/tl_2020_42_bg.zip",
		BlockGroupURL("", 2020, "42"))
	assert.Equal(t,
		"ftp://ftp2.census.gov/geo/tiger/TIGER2020/BG/tl_2020_42_bg.zip",
		BlockGroupURL("ftp://ftp2.census.gov/geo/tiger", 2020, "42"))
}

func TestEncodeDecodeRing(t *testing.T) {
	ring := [][]float64{{-75.17, 39.95}, {-75.16, 39.95}, {-75.16, 39.96}}

	data, err := EncodeRing(ring)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	back, err := DecodeRing(data)
	require.NoError(t, err)
	require.Len(t, back, 4)
	assert.Equal(t, back[0], back[3])
	assert.Equal(t, ring[1], back[1])

	data, err = EncodeRing(nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}
