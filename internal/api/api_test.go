package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/observatory/internal/cache"
	"github.com/rewired-gh/observatory/internal/flows"
	"github.com/rewired-gh/observatory/internal/metrics"
	"github.com/rewired-gh/observatory/internal/models"
	"github.com/rewired-gh/observatory/internal/normalize"
	"github.com/rewired-gh/observatory/internal/scoring"
	"github.com/rewired-gh/observatory/internal/similarity"
	"github.com/rewired-gh/observatory/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDetector struct {
	lastReq flows.Request
	resp    *models.FlowsResponse
	snap    models.CountrySnapshot
	err     error
}

func (f *fakeDetector) Detect(_ context.Context, req flows.Request) (*models.FlowsResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func (f *fakeDetector) Snapshot(_ context.Context, country, window string) (models.CountrySnapshot, error) {
	return f.snap, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func do(t *testing.T, r http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetFlowsParsesQuery(t *testing.T) {
	d := &fakeDetector{resp: &models.FlowsResponse{TimeWindow: models.Window6h, Hotspots: []models.Hotspot{}, Flows: []models.Flow{}}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, "24h")})

	rec := do(t, r, "/v1/flows?time_window=6h&countries=us,%20br,,gb&threshold=0.3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "6h", d.lastReq.TimeWindow)
	assert.Equal(t, []string{"us", "br", "gb"}, d.lastReq.Countries)
	require.NotNil(t, d.lastReq.Threshold)
	assert.Equal(t, 0.3, *d.lastReq.Threshold)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	var body models.FlowsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.Window6h, body.TimeWindow)
}

func TestGetFlowsDefaults(t *testing.T) {
	d := &fakeDetector{resp: &models.FlowsResponse{}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, "12h")})

	rec := do(t, r, "/v1/flows")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12h", d.lastReq.TimeWindow)
	assert.Nil(t, d.lastReq.Countries)
	assert.Nil(t, d.lastReq.Threshold)
}

func TestGetFlowsBadThreshold(t *testing.T) {
	d := &fakeDetector{resp: &models.FlowsResponse{}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, "")})

	rec := do(t, r, "/v1/flows?threshold=hot")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "invalid_threshold", env.Error.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: 2h", flows.ErrInvalidTimeWindow), http.StatusBadRequest, "invalid_time_window"},
		{flows.ErrInvalidThreshold, http.StatusBadRequest, "invalid_threshold"},
		{flows.ErrInvalidCountry, http.StatusBadRequest, "invalid_country"},
		{flows.ErrTooManyCountries, http.StatusBadRequest, "too_many_countries"},
		{flows.ErrNoData, http.StatusServiceUnavailable, "no_data"},
		{flows.ErrComputationTimeout, http.StatusUnprocessableEntity, "computation_timeout"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(&fakeDetector{err: tt.err}, "")})
			rec := do(t, r, "/v1/flows")
			assert.Equal(t, tt.status, rec.Code)

			var env ErrorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.err.Error(), env.Error.Message)
		})
	}
}

func TestGetTrends(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := &fakeDetector{snap: models.CountrySnapshot{
		CountryCode: "US",
		TimeWindow:  models.Window24h,
		GeneratedAt: now,
		Topics: []models.NormalizedTopic{
			{Label: "election", CountryCode: "US", AggregatedCount: 9},
			{Label: "oil price", CountryCode: "US", AggregatedCount: 4},
		},
	}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, "")})

	rec := do(t, r, "/v1/trends/us?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body TrendsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "US", body.Country)
	assert.Equal(t, 2, body.TopicCount)
	require.Len(t, body.Topics, 1)
	assert.Equal(t, "election", body.Topics[0].Label)

	rec = do(t, r, "/v1/trends/us?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	healthy := NewRouter(RouterConfig{HealthHandler: NewHealthHandler(map[string]Pinger{"storage": fakePinger{}})})
	rec := do(t, healthy, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	broken := NewRouter(RouterConfig{HealthHandler: NewHealthHandler(map[string]Pinger{
		"storage": fakePinger{},
		"cache":   fakePinger{err: errors.New("connection refused")},
	})})
	rec = do(t, broken, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	d := &fakeDetector{resp: &models.FlowsResponse{}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, ""), Metrics: m, MetricsPath: "/metrics"})

	require.Equal(t, http.StatusOK, do(t, r, "/v1/flows").Code)
	rec := do(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `observatory_http_requests_total{method="GET",route="/v1/flows",status="200"} 1`)
}

func TestTracingMiddleware(t *testing.T) {
	d := &fakeDetector{resp: &models.FlowsResponse{}}
	r := NewRouter(RouterConfig{FlowsHandler: NewFlowsHandler(d, ""), ServiceName: "observatory-test"})
	assert.Equal(t, http.StatusOK, do(t, r, "/v1/flows").Code)
}

func TestFlowsEndToEnd(t *testing.T) {
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC()
	_, err = store.AddObservations(context.Background(), []models.TopicObservation{
		{CountryCode: "US", RawLabel: "Elections", Source: models.SourceGDELT, ObservedAt: now.Add(-3 * time.Hour), MentionCount: 8, Confidence: 0.9},
		{CountryCode: "BR", RawLabel: "election", Source: models.SourceTrends, ObservedAt: now.Add(-2 * time.Hour), MentionCount: 6, Confidence: 0.7},
		{CountryCode: "GB", RawLabel: "Royal wedding", Source: models.SourceWikipedia, ObservedAt: now.Add(-time.Hour), MentionCount: 3, Confidence: 0.8},
	})
	require.NoError(t, err)

	heat, err := scoring.NewHeatScorer(scoring.DefaultHalfLifeHours)
	require.NoError(t, err)
	hotspots, err := scoring.NewHotspotScorer(scoring.HotspotOptions{VolumeCap: scoring.DefaultVolumeCap, VelocityCap: scoring.DefaultVelocityCap})
	require.NoError(t, err)
	detector, err := flows.New(flows.Options{
		Normalizer:     normalize.New(normalize.DefaultDictionary()),
		Similarity:     similarity.NewEngine(similarity.Options{StopWords: true}),
		Heat:           heat,
		Hotspots:       hotspots,
		Source:         store,
		Countries:      store,
		Archive:        store,
		Cache:          cache.NewMemory(),
		Threshold:      0.5,
		CacheTTL:       time.Minute,
		ComputeTimeout: 5 * time.Second,
		MaxCountries:   10,
	})
	require.NoError(t, err)

	r := NewRouter(RouterConfig{
		FlowsHandler:  NewFlowsHandler(detector, "24h"),
		HealthHandler: NewHealthHandler(map[string]Pinger{"storage": store}),
	})

	rec := do(t, r, "/v1/flows")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body models.FlowsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"BR", "GB", "US"}, body.Metadata.CountriesAnalyzed)
	require.Len(t, body.Flows, 1)
	assert.Equal(t, "US", body.Flows[0].FromCountry)
	assert.Equal(t, "BR", body.Flows[0].ToCountry)
	assert.Len(t, body.Hotspots, 3)

	rec = do(t, r, "/v1/trends/gb?time_window=6h")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "royal wedding"))

	rec = do(t, r, "/v1/flows?countries=USA")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}
