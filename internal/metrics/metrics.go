// Package metrics holds the Prometheus instruments of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "security_intel"

// Metrics contains every instrument exported on /metrics.
type Metrics struct {
	// Store
	EventsAppended prometheus.Counter
	EventsRejected *prometheus.CounterVec // by field
	StoreEvents    prometheus.Gauge

	// Queries
	QueryDuration *prometheus.HistogramVec // by operation
	QueryErrors   *prometheus.CounterVec   // by operation, kind
	CacheHits     *prometheus.CounterVec   // by operation
	CacheMisses   *prometheus.CounterVec   // by operation

	// Ingest and archive
	IngestMessages *prometheus.CounterVec // by outcome
	ArchiveFlushes *prometheus.CounterVec // by sink, outcome
	ArchiveRows    *prometheus.CounterVec // by sink

	// HTTP
	HTTPRequests *prometheus.CounterVec   // by route, status
	HTTPDuration *prometheus.HistogramVec // by route
}

// New registers the instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events accepted by the event store",
		}),
		EventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events rejected by validation, by offending field",
		}, []string{"field"}),
		StoreEvents: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_events",
			Help:      "Records held by the event store",
		}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of analytics queries",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed analytics queries",
		}, []string{"operation", "kind"}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Query results served from the result cache",
		}, []string{"operation"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cacheable queries computed from the store",
		}, []string{"operation"}),
		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Kafka messages handled by the ingest consumer",
		}, []string{"outcome"}),
		ArchiveFlushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_flushes_total",
			Help:      "Archive sink flushes",
		}, []string{"sink", "outcome"}),
		ArchiveRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_rows_total",
			Help:      "Rows written by archive sinks",
		}, []string{"sink"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// NewNop returns instruments registered nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveQuery records one query duration.
func (m *Metrics) ObserveQuery(op string, start time.Time) {
	m.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
