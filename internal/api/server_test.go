package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/censusify/internal/model"
	"github.com/sells-group/censusify/internal/store"
	"github.com/sells-group/censusify/internal/tiger"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seedRun stores a completed run with one psa and the citywide row.
func seedRun(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()
	run, err := st.CreateRun(ctx, model.RunParams{
		Year: 2020, Dataset: "dec/pl", StateFIPS: "42", CountyFIPS: "101",
		Relationship: "pct_overlap", Taxonomy: "police", Levels: []string{"psa"},
	})
	require.NoError(t, err)

	geom, err := tiger.EncodeRing([][]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}})
	require.NoError(t, err)
	_, err = st.SaveGeographies(ctx, run.ID, []model.GeographyResult{
		{
			Level: "psa", Key: "011", Parents: map[string]string{"district": "01"},
			Counts: map[string]int64{"a": 30, "b": 70}, Percents: map[string]float64{"a": 30, "b": 70},
			Total: 100, BlockGroups: 2, Geometry: geom,
		},
		{Level: model.CitywideLevel, Key: "citywide", Counts: map[string]int64{"a": 30, "b": 70}, Total: 100, BlockGroups: 2},
	})
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, run.ID, &model.RunResult{BlockGroups: 2}))
	return run.ID
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := NewServer(newTestStore(t), 0, nil).Handler()
	w := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealth_StoreDown(t *testing.T) {
	h := NewServer(&failingStore{}, 0, nil).Handler()
	w := get(t, h, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListRuns(t *testing.T) {
	st := newTestStore(t)
	id := seedRun(t, st)
	h := NewServer(st, 0, nil).Handler()

	w := get(t, h, "/runs?status=complete&limit=10")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)

	w = get(t, h, "/runs?status=failed")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get(t, h, "/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = get(t, h, "/runs?offset=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun(t *testing.T) {
	st := newTestStore(t)
	id := seedRun(t, st)
	h := NewServer(st, 0, nil).Handler()

	w := get(t, h, "/runs/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Result)
	assert.Equal(t, 2, run.Result.BlockGroups)

	w = get(t, h, "/runs/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"run not found"}`, w.Body.String())
}

func TestListGeographies(t *testing.T) {
	st := newTestStore(t)
	id := seedRun(t, st)
	h := NewServer(st, 0, nil).Handler()

	w := get(t, h, "/runs/"+id+"/geographies/psa")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "011", rows[0]["key"])
	assert.Equal(t, map[string]any{"district": "01"}, rows[0]["parents"])
	assert.NotContains(t, rows[0], "geometry")

	w = get(t, h, "/runs/"+id+"/geographies/ward")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get(t, h, "/runs/missing/geographies/psa")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGeoJSON(t *testing.T) {
	st := newTestStore(t)
	id := seedRun(t, st)
	h := NewServer(st, 0, nil).Handler()

	w := get(t, h, "/runs/"+id+"/geojson/psa")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string         `json:"id"`
			Geometry map[string]any `json:"geometry"`
			Props    map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "011", fc.Features[0].ID)
	assert.Equal(t, "MultiPolygon", fc.Features[0].Geometry["type"])
	assert.Equal(t, float64(100), fc.Features[0].Props["total"])

	w = get(t, h, "/runs/"+id+"/geojson/"+model.CitywideLevel)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Empty(t, fc.Features)
}

func TestCORS(t *testing.T) {
	h := NewServer(newTestStore(t), 0, []string{"https://maps.example.org"}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/runs/", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://maps.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.org")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerError(t *testing.T) {
	h := NewServer(&failingStore{}, 0, nil).Handler()
	w := get(t, h, "/runs/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestServe_Shutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(newTestStore(t), 0, nil)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

// failingStore fails every call.
type failingStore struct{ store.Store }

var errDown = errors.New("database down")

func (failingStore) Ping(context.Context) error { return errDown }

func (failingStore) ListRuns(context.Context, store.RunFilter) ([]model.Run, error) {
	return nil, errDown
}
