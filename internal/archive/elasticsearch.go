package archive

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"security-intel/internal/client"
	"security-intel/internal/metrics"
	"security-intel/internal/model"
)

// BulkIndexer is the part of client.ESClient the mirror uses.
type BulkIndexer interface {
	BulkIndex(ctx context.Context, index string, docs []client.BulkDoc) error
}

// SearchMirror copies accepted events into an Elasticsearch index for
// free-text search. Documents are keyed by event_id, so replays overwrite.
type SearchMirror struct {
	*batcher
	es    BulkIndexer
	index string
}

func NewSearchMirror(es BulkIndexer, index string, batchSize int, interval time.Duration,
	breaker *gobreaker.CircuitBreaker, m *metrics.Metrics, logger *zap.Logger) *SearchMirror {
	s := &SearchMirror{es: es, index: index}
	s.batcher = newBatcher("elasticsearch", batchSize, interval, s.bulk, breaker, m, logger)
	return s
}

func (s *SearchMirror) bulk(ctx context.Context, batch []*model.SecurityEvent) error {
	docs := make([]client.BulkDoc, len(batch))
	for i, ev := range batch {
		docs[i] = client.BulkDoc{ID: ev.EventID.String(), Body: ev}
	}
	return s.es.BulkIndex(ctx, s.index, docs)
}
