package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengzang/scootermap-go/internal/logging"
	"github.com/jengzang/scootermap-go/internal/models"
	"github.com/jengzang/scootermap-go/internal/repository"
	"github.com/jengzang/scootermap-go/internal/service"
	"github.com/jengzang/scootermap-go/internal/spatial"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details struct {
		Param string `json:"param"`
	} `json:"details"`
}

func setup(t *testing.T) (*gin.Engine, *repository.SnapshotRepository, string) {
	t.Helper()
	repo, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "mobility.db"), repository.Options{
		Resolutions: []int{9, 8},
		Retry:       repository.RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond},
		Logger:      logging.Discard(),
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cell, err := spatial.Encode(50.75, 6.08, 8)
	require.NoError(t, err)
	require.NoError(t, repo.ReplaceSnapshot(context.Background(), 8, []models.AggregationRecord{
		models.NewAggregationRecord(cell, 8, 3, now),
	}))

	svc := service.NewHeatmapService(repo, service.HeatmapSettings{
		Resolutions:       []int{9, 8},
		DefaultResolution: 8,
		WindowSizeMinutes: 5,
		RetentionMinutes:  60,
	})
	heatmap := NewHeatmapHandler(svc)
	health := NewHealthHandler(svc, "ScooterMap")
	admin := NewAdminHandler(repo, time.Hour, logging.Discard())

	r := gin.New()
	r.GET("/health", health.GetHealth)
	r.GET("/heatmap", heatmap.GetHeatmap)
	r.GET("/heatmap/geojson", heatmap.GetGeoJSON)
	r.GET("/stats", heatmap.GetStats)
	r.GET("/cells/:cell", heatmap.GetCell)
	r.GET("/locate", heatmap.Locate)
	r.POST("/cleanup", admin.Cleanup)
	return r, repo, cell
}

func do(t *testing.T, r http.Handler, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestGetHeatmap(t *testing.T) {
	r, _, cell := setup(t)

	w, env := do(t, r, http.MethodGet, "/heatmap")
	require.Equal(t, http.StatusOK, w.Code)

	var heatmap models.HeatmapResponse
	require.NoError(t, json.Unmarshal(env.Data, &heatmap))
	assert.Equal(t, 8, heatmap.Resolution)
	require.Len(t, heatmap.Hexagons, 1)
	assert.Equal(t, cell, heatmap.Hexagons[0].H3Index)
	assert.Equal(t, 3, heatmap.TotalVehicles)
}

func TestGetHeatmapInvalidParameters(t *testing.T) {
	r, _, _ := setup(t)

	tests := []struct {
		path  string
		param string
	}{
		{"/heatmap?resolution=7", "resolution"},
		{"/heatmap?min_count=-2", "min_count"},
		{"/heatmap?resolution=abc", "query"},
		{"/heatmap/geojson?resolution=15", "resolution"},
		{"/cells/zzz", "cell"},
		{"/locate?lat=x&lon=1", "lat"},
		{"/locate?lat=91&lon=1", "lat,lon"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w, env := do(t, r, http.MethodGet, tt.path)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "invalid parameter", env.Message)
			assert.Equal(t, tt.param, env.Details.Param)
		})
	}
}

func TestGetGeoJSON(t *testing.T) {
	r, _, cell := setup(t)

	w, _ := do(t, r, http.MethodGet, "/heatmap/geojson")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string         `json:"type"`
				Coordinates [][][2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, cell, fc.Features[0].Properties["h3_index"])
	ring := fc.Features[0].Geometry.Coordinates[0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestGetStatsAndHealth(t *testing.T) {
	r, _, _ := setup(t)

	w, env := do(t, r, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	db := stats["database"].(map[string]interface{})
	assert.EqualValues(t, 1, db["res8_count"])
	assert.EqualValues(t, 0, db["raw_count"])

	w, env = do(t, r, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"healthy"`)
}

func TestHealthDegradedWhenStoreFails(t *testing.T) {
	r, repo, _ := setup(t)
	require.NoError(t, repo.Close())

	w, env := do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, string(env.Data), `"degraded"`)

	w, env = do(t, r, http.MethodGet, "/stats")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Message)
}

func TestGetCell(t *testing.T) {
	r, _, _ := setup(t)
	fine, err := spatial.Encode(50.75, 6.08, 9)
	require.NoError(t, err)

	w, env := do(t, r, http.MethodGet, "/cells/"+fine)
	require.Equal(t, http.StatusOK, w.Code)
	var info models.CellInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 9, info.Resolution)
	assert.Len(t, info.Parents, 1)
}

func TestLocate(t *testing.T) {
	r, _, cell := setup(t)

	w, env := do(t, r, http.MethodGet, "/locate?lat=50.75&lon=6.08")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Cells map[string]string `json:"cells"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, cell, out.Cells["8"])
}

func TestAdminCleanup(t *testing.T) {
	r, repo, _ := setup(t)
	require.NoError(t, repo.InsertRawLocations(context.Background(), []models.RawLocation{
		{BikeID: "old", Lat: 50.75, Lon: 6.08, Timestamp: now.Add(-2 * time.Hour)},
	}))

	w, env := do(t, r, http.MethodPost, "/cleanup")
	require.Equal(t, http.StatusOK, w.Code)
	var result models.CleanupResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, int64(1), result.RawDeleted)
}

type failingCleaner struct{}

func (failingCleaner) CleanupOlderThan(context.Context, time.Duration) (models.CleanupResult, error) {
	return models.CleanupResult{}, errors.New("database is locked")
}

func TestAdminCleanupFailure(t *testing.T) {
	r := gin.New()
	r.POST("/cleanup", NewAdminHandler(failingCleaner{}, time.Hour, logging.Discard()).Cleanup)

	w, _ := do(t, r, http.MethodPost, "/cleanup")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWorkerHealth(t *testing.T) {
	clock := now
	checker := service.NewHealthChecker(time.Minute, func() time.Time { return clock })
	r := gin.New()
	r.GET("/health", NewWorkerHealthHandler(checker).GetHealth)

	w, _ := do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	clock = now.Add(5 * time.Minute)
	w, _ = do(t, r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)
}
