package service

import (
	"go.uber.org/zap"

	"security-intel/internal/analytics"
	"security-intel/internal/bucketing"
	"security-intel/internal/cache"
	"security-intel/internal/config"
	"security-intel/internal/metrics"
	"security-intel/internal/store"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg              *config.Config
	store            *store.Store
	bucketingMgr     *bucketing.BucketingManager
	cache            cache.Cache
	metrics          *metrics.Metrics
	logger           *zap.Logger
	analyticsService *AnalyticsService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	cfg *config.Config,
	st *store.Store,
	bucketingMgr *bucketing.BucketingManager,
	c cache.Cache,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:          cfg,
		store:        st,
		bucketingMgr: bucketingMgr,
		cache:        c,
		metrics:      m,
		logger:       logger,
	}
}

// AnalyticsService returns the query façade (singleton)
func (f *ServiceFactory) AnalyticsService() *AnalyticsService {
	if f.analyticsService == nil {
		engine := analytics.NewEngine(f.bucketingMgr,
			analytics.WithWorkers(f.cfg.Query.Workers),
			analytics.WithLogger(f.logger.Named("analytics")),
		)
		f.analyticsService = NewAnalyticsService(f.cfg.Query, f.store, engine, f.cache, f.metrics, f.logger.Named("query"))
	}
	return f.analyticsService
}

// Cleanup closes the event store. Snapshots already handed out stay valid.
func (f *ServiceFactory) Cleanup() {
	if f.store != nil {
		f.store.Close()
	}
}
