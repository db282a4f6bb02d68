package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-intel/internal/analytics"
	"security-intel/internal/browser"
	"security-intel/internal/cache"
	"security-intel/internal/config"
	"security-intel/internal/metrics"
	"security-intel/internal/model"
	"security-intel/internal/store"
	"security-intel/internal/util"
)

// Operation names, used as cache key prefixes and metric labels.
const (
	OpSeverityTrend        = "severity_trend"
	OpTopAttackers         = "top_attackers"
	OpThreatCategories     = "threat_categories"
	OpKPISummary           = "kpi_summary"
	OpEventTypes           = "event_types"
	OpGeoDistribution      = "geo_distribution"
	OpSeverityDistribution = "severity_distribution"
	OpRecentEvents         = "recent_events"
)

// QueryFacade is the read API of the service. Every call runs against one
// store snapshot and is bounded by the configured query timeout.
type QueryFacade interface {
	SeverityTrend(ctx context.Context, limit int) ([]model.SeverityTrendRow, error)
	TopAttackers(ctx context.Context, limit int) ([]model.AttackerRow, error)
	ThreatCategoryStats(ctx context.Context) ([]model.CategoryRow, error)
	KPISummary(ctx context.Context) (model.KPISummary, error)
	EventTypeAnalysis(ctx context.Context) ([]model.EventTypeRow, error)
	GeoDistribution(ctx context.Context) ([]model.GeoRow, error)
	SeverityDistribution(ctx context.Context) ([]model.SeverityShare, error)
	RecentEvents(ctx context.Context, q browser.Query) (model.EventPage, error)
	HealthCheck(ctx context.Context) error
}

// Snapshotter is the part of the event store the façade reads from.
type Snapshotter interface {
	Snapshot() (*store.Snapshot, error)
	HealthCheck() error
}

// AnalyticsService implements QueryFacade on top of the aggregation engine
// and the event browser.
type AnalyticsService struct {
	store   Snapshotter
	engine  *analytics.Engine
	browser *browser.Browser
	cache   cache.Cache
	metrics *metrics.Metrics
	timeout time.Duration
	logger  *zap.Logger
}

var _ QueryFacade = (*AnalyticsService)(nil)

func NewAnalyticsService(
	cfg config.QueryConfig,
	st Snapshotter,
	engine *analytics.Engine,
	c cache.Cache,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AnalyticsService {
	if c == nil {
		c = cache.Noop{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = util.Get()
	}
	return &AnalyticsService{
		store:   st,
		engine:  engine,
		browser: browser.New(cfg.MinPageSize, cfg.MaxPageSize),
		cache:   c,
		metrics: m,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// query runs fn against a fresh snapshot. When cacheable, results are
// memoized per (op, params, snapshot version).
func query[T any](ctx context.Context, s *AnalyticsService, op string, cacheable bool, params []any,
	fn func(context.Context, *store.Snapshot) (T, error)) (T, error) {

	var zero T
	start := time.Now()
	defer s.metrics.ObserveQuery(op, start)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	snap, err := s.store.Snapshot()
	if err != nil {
		return zero, s.fail(op, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
	}

	var key string
	if cacheable {
		key = cache.Key(op, snap.Version(), params...)
		var cached T
		if s.cache.Get(ctx, key, &cached) {
			s.metrics.CacheHits.WithLabelValues(op).Inc()
			return cached, nil
		}
		s.metrics.CacheMisses.WithLabelValues(op).Inc()
	}

	out, err := fn(ctx, snap)
	if err != nil {
		return zero, s.fail(op, model.FromContext(err))
	}
	if cacheable {
		s.cache.Set(ctx, key, out)
	}

	s.logger.Debug("Query completed",
		zap.String("operation", op),
		zap.Int64("version", snap.Version()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (s *AnalyticsService) fail(op string, err error) error {
	kind := errorKind(err)
	s.metrics.QueryErrors.WithLabelValues(op, kind).Inc()
	if kind == "internal" || kind == "unavailable" {
		s.logger.Error("Query failed", zap.String("operation", op), zap.Error(err))
	} else {
		s.logger.Info("Query aborted", zap.String("operation", op), zap.String("kind", kind), zap.Error(err))
	}
	return err
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidQuery):
		return "invalid"
	case errors.Is(err, model.ErrQueryTimeout):
		return "timeout"
	case errors.Is(err, model.ErrQueryCancelled):
		return "cancelled"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "unavailable"
	}
	return "internal"
}

// SeverityTrend returns hourly per-severity counts with running totals and
// 7-bucket moving averages. limit 0 returns every bucket.
func (s *AnalyticsService) SeverityTrend(ctx context.Context, limit int) ([]model.SeverityTrendRow, error) {
	if limit < 0 {
		return nil, s.fail(OpSeverityTrend, model.InvalidQuery("limit must not be negative"))
	}
	return query(ctx, s, OpSeverityTrend, true, []any{limit},
		func(ctx context.Context, snap *store.Snapshot) ([]model.SeverityTrendRow, error) {
			return s.engine.SeverityTrend(ctx, snap, limit)
		})
}

// TopAttackers returns source addresses ranked by event count. limit <= 0
// or above the leaderboard cap means the cap.
func (s *AnalyticsService) TopAttackers(ctx context.Context, limit int) ([]model.AttackerRow, error) {
	if limit <= 0 || limit > analytics.MaxAttackers {
		limit = analytics.MaxAttackers
	}
	return query(ctx, s, OpTopAttackers, true, []any{limit},
		func(ctx context.Context, snap *store.Snapshot) ([]model.AttackerRow, error) {
			return s.engine.TopAttackers(ctx, snap, limit)
		})
}

func (s *AnalyticsService) ThreatCategoryStats(ctx context.Context) ([]model.CategoryRow, error) {
	return query(ctx, s, OpThreatCategories, true, nil, s.engine.ThreatCategoryStats)
}

// KPISummary depends on the evaluation instant and is never cached.
func (s *AnalyticsService) KPISummary(ctx context.Context) (model.KPISummary, error) {
	return query(ctx, s, OpKPISummary, false, nil, s.engine.KPISummary)
}

// EventTypeAnalysis depends on the evaluation instant and is never cached.
func (s *AnalyticsService) EventTypeAnalysis(ctx context.Context) ([]model.EventTypeRow, error) {
	return query(ctx, s, OpEventTypes, false, nil, s.engine.EventTypeAnalysis)
}

func (s *AnalyticsService) GeoDistribution(ctx context.Context) ([]model.GeoRow, error) {
	return query(ctx, s, OpGeoDistribution, true, nil, s.engine.GeoDistribution)
}

func (s *AnalyticsService) SeverityDistribution(ctx context.Context) ([]model.SeverityShare, error) {
	return query(ctx, s, OpSeverityDistribution, true, nil, s.engine.SeverityDistribution)
}

// RecentEvents pages through raw events, newest first.
func (s *AnalyticsService) RecentEvents(ctx context.Context, q browser.Query) (model.EventPage, error) {
	if err := s.browser.Validate(q); err != nil {
		return model.EventPage{}, s.fail(OpRecentEvents, err)
	}
	return query(ctx, s, OpRecentEvents, false, nil,
		func(ctx context.Context, snap *store.Snapshot) (model.EventPage, error) {
			return s.browser.RecentEvents(ctx, snap, q)
		})
}

func (s *AnalyticsService) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.HealthCheck()
}
