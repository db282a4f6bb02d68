package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"security-intel/internal/analytics"
	"security-intel/internal/browser"
	"security-intel/internal/bucketing"
	"security-intel/internal/cache"
	"security-intel/internal/config"
	"security-intel/internal/metrics"
	"security-intel/internal/model"
	"security-intel/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func queryConfig() config.QueryConfig {
	return config.QueryConfig{
		Timeout:         time.Second,
		DefaultPageSize: 50,
		MinPageSize:     10,
		MaxPageSize:     200,
	}
}

func newTestService(t *testing.T) (*AnalyticsService, *store.Store, *metrics.Metrics) {
	t.Helper()
	st := store.New(store.WithLogger(zap.NewNop()))
	engine := analytics.NewEngine(bucketing.NewBucketingManagerN(4),
		analytics.WithLogger(zap.NewNop()),
		analytics.WithClock(func() time.Time { return t0 }))
	m := metrics.NewNop()
	svc := NewAnalyticsService(queryConfig(), st, engine, cache.NewLRU(16, time.Minute, zap.NewNop()), m, zap.NewNop())
	return svc, st, m
}

func appendEvent(t *testing.T, st *store.Store, ip string, sev model.Severity, category string) {
	t.Helper()
	_, err := st.Append(&model.SecurityEvent{
		Timestamp:      t0.Add(-time.Hour),
		SourceIP:       ip,
		DestinationIP:  "10.1.1.1",
		EventType:      "port_scan",
		Severity:       sev,
		SeverityScore:  6,
		Description:    "probe",
		ThreatCategory: category,
		GeoCountry:     "NL",
	})
	require.NoError(t, err)
}

func TestQueries_ReturnEngineResults(t *testing.T) {
	svc, st, _ := newTestService(t)
	appendEvent(t, st, "10.0.0.1", model.SeverityCritical, "malware")
	appendEvent(t, st, "10.0.0.1", model.SeverityHigh, "malware")
	appendEvent(t, st, "10.0.0.2", model.SeverityLow, "")
	ctx := context.Background()

	trend, err := svc.SeverityTrend(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, trend, 3)

	attackers, err := svc.TopAttackers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, attackers, 2)
	assert.Equal(t, "10.0.0.1", attackers[0].SourceIP)

	cats, err := svc.ThreatCategoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, 100.0, cats[0].Percentage)

	kpi, err := svc.KPISummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), kpi.TotalEvents)
	assert.Equal(t, int64(3), kpi.EventsLast24h)

	types, err := svc.EventTypeAnalysis(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, int64(3), types[0].EventsLast24h)

	geo, err := svc.GeoDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, geo, 1)

	dist, err := svc.SeverityDistribution(ctx)
	require.NoError(t, err)
	assert.Len(t, dist, 3)

	page, err := svc.RecentEvents(ctx, browser.Query{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Total)
}

func TestCache_KeyedBySnapshotVersion(t *testing.T) {
	svc, st, m := newTestService(t)
	appendEvent(t, st, "10.0.0.1", model.SeverityHigh, "recon")
	ctx := context.Background()

	first, err := svc.ThreatCategoryStats(ctx)
	require.NoError(t, err)
	second, err := svc.ThreatCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(OpThreatCategories)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(OpThreatCategories)))

	appendEvent(t, st, "10.0.0.2", model.SeverityHigh, "malware")
	third, err := svc.ThreatCategoryStats(ctx)
	require.NoError(t, err)
	assert.Len(t, third, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(OpThreatCategories)))
}

func TestKPISummary_NotCached(t *testing.T) {
	svc, st, m := newTestService(t)
	appendEvent(t, st, "10.0.0.1", model.SeverityHigh, "")

	for i := 0; i < 2; i++ {
		_, err := svc.KPISummary(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(OpKPISummary)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues(OpKPISummary)))
}

func TestErrors_MapToTaxonomy(t *testing.T) {
	svc, st, m := newTestService(t)
	appendEvent(t, st, "10.0.0.1", model.SeverityHigh, "")

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := svc.TopAttackers(expired, 10)
	assert.ErrorIs(t, err, model.ErrQueryTimeout)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = svc.GeoDistribution(cancelled)
	assert.ErrorIs(t, err, model.ErrQueryCancelled)

	_, err = svc.SeverityTrend(context.Background(), -1)
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	_, err = svc.RecentEvents(context.Background(), browser.Query{Page: 0, PageSize: 10})
	assert.ErrorIs(t, err, model.ErrInvalidQuery)

	st.Close()
	_, err = svc.KPISummary(context.Background())
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Error(t, svc.HealthCheck(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues(OpTopAttackers, "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryErrors.WithLabelValues(OpKPISummary, "unavailable")))
}

func TestTopAttackers_ClampsLimit(t *testing.T) {
	svc, st, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		appendEvent(t, st, "10.0.0.9", model.SeverityLow, "")
	}
	rows, err := svc.TopAttackers(context.Background(), 1000)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
