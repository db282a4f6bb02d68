package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"security-intel/internal/browser"
	"security-intel/internal/config"
	"security-intel/internal/metrics"
	"security-intel/internal/model"
)

type fakeFacade struct {
	err         error
	healthErr   error
	trendLimit  int
	attackLimit int
	lastQuery   browser.Query
}

func (f *fakeFacade) SeverityTrend(_ context.Context, limit int) ([]model.SeverityTrendRow, error) {
	f.trendLimit = limit
	return []model.SeverityTrendRow{{Severity: model.SeverityHigh, EventCount: 2, RunningTotal: 2, MovingAvg7h: 2}}, f.err
}

func (f *fakeFacade) TopAttackers(_ context.Context, limit int) ([]model.AttackerRow, error) {
	f.attackLimit = limit
	return []model.AttackerRow{{SourceIP: "10.0.0.1", AttackRank: 1}}, f.err
}

func (f *fakeFacade) ThreatCategoryStats(context.Context) ([]model.CategoryRow, error) {
	return []model.CategoryRow{}, f.err
}

func (f *fakeFacade) KPISummary(context.Context) (model.KPISummary, error) {
	return model.KPISummary{TotalEvents: 3}, f.err
}

func (f *fakeFacade) EventTypeAnalysis(context.Context) ([]model.EventTypeRow, error) {
	return []model.EventTypeRow{}, f.err
}

func (f *fakeFacade) GeoDistribution(context.Context) ([]model.GeoRow, error) {
	return []model.GeoRow{}, f.err
}

func (f *fakeFacade) SeverityDistribution(context.Context) ([]model.SeverityShare, error) {
	return []model.SeverityShare{}, f.err
}

func (f *fakeFacade) RecentEvents(_ context.Context, q browser.Query) (model.EventPage, error) {
	f.lastQuery = q
	return model.EventPage{
		Data:       []*model.SecurityEvent{{ID: 9, Severity: model.SeverityLow, Timestamp: time.Unix(0, 0).UTC()}},
		Pagination: model.Pagination{Page: q.Page, PageSize: q.PageSize, Total: 61, TotalPages: 2},
	}, f.err
}

func (f *fakeFacade) HealthCheck(context.Context) error { return f.healthErr }

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		Timeout:             time.Second,
		DefaultPageSize:     50,
		MinPageSize:         10,
		MaxPageSize:         200,
		DefaultTrendBuckets: 168,
		MaxTrendBuckets:     1000,
		DefaultAttackers:    20,
		MaxAttackers:        100,
	}
}

func newTestRouter(f *fakeFacade, server config.ServerConfig) (http.Handler, *metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := NewAnalyticsHandler(f, testQueryConfig(), zap.NewNop())
	return NewRouter(h, server, m, reg, zap.NewNop()), m, reg
}

func do(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var resp Response
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestRoutes_ServeEnvelope(t *testing.T) {
	router, _, _ := newTestRouter(&fakeFacade{}, config.ServerConfig{AllowedOrigins: []string{"*"}})

	for _, path := range []string{
		"/api/health",
		"/api/analytics/kpis",
		"/api/analytics/severity-trend",
		"/api/analytics/top-attackers",
		"/api/analytics/threat-categories",
		"/api/analytics/event-types",
		"/api/analytics/geo-distribution",
		"/api/analytics/severity-distribution",
		"/api/analytics/recent-events",
	} {
		rec, resp := do(t, router, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, resp.Success, path)
		assert.NotNil(t, resp.Data, path)
	}
}

func TestLimits_DefaultsAndBounds(t *testing.T) {
	f := &fakeFacade{}
	router, _, _ := newTestRouter(f, config.ServerConfig{})

	do(t, router, "/api/analytics/severity-trend")
	assert.Equal(t, 168, f.trendLimit)
	do(t, router, "/api/analytics/top-attackers")
	assert.Equal(t, 20, f.attackLimit)

	do(t, router, "/api/analytics/top-attackers?limit=5")
	assert.Equal(t, 5, f.attackLimit)

	for _, target := range []string{
		"/api/analytics/top-attackers?limit=0",
		"/api/analytics/top-attackers?limit=101",
		"/api/analytics/severity-trend?limit=1001",
		"/api/analytics/severity-trend?limit=abc",
	} {
		rec, resp := do(t, router, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.False(t, resp.Success, target)
		assert.NotEmpty(t, resp.Error, target)
	}
}

func TestRecentEvents_ParsesFiltersAndPaginates(t *testing.T) {
	f := &fakeFacade{}
	router, _, _ := newTestRouter(f, config.ServerConfig{})

	rec, resp := do(t, router, "/api/analytics/recent-events?page=2&page_size=30&severity=HIGH&event_type=port_scan")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, browser.Query{Page: 2, PageSize: 30, Severity: model.SeverityHigh, EventType: "port_scan"}, f.lastQuery)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, Meta{Page: 2, PageSize: 30, Total: 61, TotalPages: 2}, *resp.Meta)

	do(t, router, "/api/analytics/recent-events")
	assert.Equal(t, browser.Query{Page: 1, PageSize: 50}, f.lastQuery)

	for _, target := range []string{
		"/api/analytics/recent-events?page=0",
		"/api/analytics/recent-events?page_size=5",
		"/api/analytics/recent-events?page_size=201",
		"/api/analytics/recent-events?severity=urgent",
	} {
		rec, _ := do(t, router, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestErrors_MapToStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.InvalidQuery("bad"), http.StatusBadRequest},
		{model.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{model.ErrQueryTimeout, http.StatusGatewayTimeout},
		{model.ErrQueryCancelled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		router, _, _ := newTestRouter(&fakeFacade{err: tt.err}, config.ServerConfig{})
		rec, resp := do(t, router, "/api/analytics/kpis")
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.False(t, resp.Success)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	router, _, _ := newTestRouter(&fakeFacade{healthErr: model.ErrStoreUnavailable}, config.ServerConfig{})
	rec, resp := do(t, router, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	router, _, _ := newTestRouter(&fakeFacade{}, config.ServerConfig{})

	rec, _ := do(t, router, "/api/analytics/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analytics/kpis", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_RequiresHTTPSWhenTLSEnabled(t *testing.T) {
	router, _, _ := newTestRouter(&fakeFacade{}, config.ServerConfig{EnableTLS: true})
	rec, _ := do(t, router, "/api/health")
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestRouter_RecordsMetrics(t *testing.T) {
	router, m, _ := newTestRouter(&fakeFacade{}, config.ServerConfig{})
	do(t, router, "/api/analytics/kpis")
	do(t, router, "/api/analytics/kpis")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/analytics/kpis", "200")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "security_intel_http_requests_total")
}
