// Package analytics implements the aggregation engine: stateless operations
// computed over one store snapshot.
//
// Ranked aggregations run in three stages: a parallel grouping pass that
// produces per-key accumulators, a sort by the ranking key, and a linear pass
// assigning tie-aware ranks, shares and cumulative shares.
package analytics

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"security-intel/internal/bucketing"
	"security-intel/internal/util"
)

const (
	// Events visited between two context checks.
	checkInterval = 4096
	// Below this many events grouping runs on a single goroutine.
	minParallelEvents = 32768
	// Leaderboard hard cap.
	MaxAttackers = 100
	// Trailing window used by KPISummary and EventTypeAnalysis.
	RecentWindow = 24 * time.Hour
	// Moving average width, current bucket included.
	MovingAvgWindow = 7
)

// Engine runs the aggregation operations. It holds no per-query state and is
// safe for concurrent use.
type Engine struct {
	workers int
	buckets *bucketing.BucketingManager
	clock   func() time.Time
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the goroutines used by one grouping pass.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithClock overrides the evaluation instant used by trailing windows.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine that partitions grouping keys with buckets.
func NewEngine(buckets *bucketing.BucketingManager, opts ...Option) *Engine {
	e := &Engine{
		workers: runtime.GOMAXPROCS(0),
		buckets: buckets,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.buckets == nil {
		e.buckets = bucketing.NewBucketingManagerN(1)
	}
	if e.logger == nil {
		e.logger = util.Get()
	}
	return e
}

// Now is the evaluation instant of the next query.
func (e *Engine) Now() time.Time {
	return e.clock().UTC()
}
