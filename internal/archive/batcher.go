// Package archive persists accepted events outside the process: a batched
// ClickHouse sink that also replays history at startup, and an optional
// Elasticsearch mirror.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"security-intel/internal/metrics"
	"security-intel/internal/model"
	"security-intel/internal/util"
)

// flushTimeout bounds the final flush on shutdown.
const flushTimeout = 10 * time.Second

type flushFunc func(ctx context.Context, batch []*model.SecurityEvent) error

// batcher buffers events and hands them to flush in batches of up to size,
// or whatever is pending every interval. Failed batches are retried on the
// next tick until maxPending events are waiting; beyond that the oldest
// batch is dropped.
type batcher struct {
	name       string
	in         chan *model.SecurityEvent
	size       int
	maxPending int
	interval   time.Duration
	flush      flushFunc
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newBatcher(name string, size int, interval time.Duration, flush flushFunc,
	breaker *gobreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) *batcher {
	if size <= 0 {
		size = 1000
	}
	if interval <= 0 {
		interval = time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = util.Get()
	}
	return &batcher{
		name:       name,
		in:         make(chan *model.SecurityEvent, size*2),
		size:       size,
		maxPending: size * 10,
		interval:   interval,
		flush:      flush,
		breaker:    breaker,
		metrics:    m,
		logger:     logger.With(zap.String("sink", name)),
		done:       make(chan struct{}),
	}
}

// Enqueue blocks when the buffer is full, pushing back on the producer.
func (b *batcher) Enqueue(ev *model.SecurityEvent) {
	select {
	case b.in <- ev:
	case <-b.done:
	}
}

// Run flushes until ctx is done, then flushes what is left and returns.
func (b *batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	var pending []*model.SecurityEvent
	for {
		select {
		case ev := <-b.in:
			pending = append(pending, ev)
			if len(pending) >= b.size {
				pending = b.flushPending(ctx, pending)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				pending = b.flushPending(ctx, pending)
			}
		case <-ctx.Done():
			b.closeOnce.Do(func() { close(b.done) })
		drain:
			for {
				select {
				case ev := <-b.in:
					pending = append(pending, ev)
				default:
					break drain
				}
			}
			if len(pending) > 0 {
				fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
				pending = b.flushPending(fctx, pending)
				cancel()
			}
			if len(pending) > 0 {
				b.logger.Error("Archive sink stopped with unflushed events", zap.Int("events", len(pending)))
			}
			return
		}
	}
}

// flushPending writes pending in size-bounded batches and returns what is
// still unwritten.
func (b *batcher) flushPending(ctx context.Context, pending []*model.SecurityEvent) []*model.SecurityEvent {
	for len(pending) > 0 {
		n := min(len(pending), b.size)
		batch := pending[:n]
		start := time.Now()

		_, err := b.breaker.Execute(func() (interface{}, error) {
			return nil, b.flush(ctx, batch)
		})
		if err != nil {
			b.metrics.ArchiveFlushes.WithLabelValues(b.name, "error").Inc()
			b.logger.Warn("Archive flush failed",
				zap.Int("batch", n),
				zap.Int("pending", len(pending)),
				zap.Error(err))
			if len(pending) > b.maxPending {
				b.metrics.ArchiveFlushes.WithLabelValues(b.name, "dropped").Inc()
				b.logger.Error("Dropping archive batch", zap.Int("events", n))
				pending = pending[n:]
			}
			return pending
		}

		b.metrics.ArchiveFlushes.WithLabelValues(b.name, "ok").Inc()
		b.metrics.ArchiveRows.WithLabelValues(b.name).Add(float64(n))
		b.logger.Debug("Archive batch flushed", zap.Int("rows", n), zap.Duration("elapsed", time.Since(start)))
		pending = pending[n:]
	}
	return nil
}
