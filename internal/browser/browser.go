// Package browser serves paginated, filtered listings of raw events, most
// recent first.
package browser

import (
	"context"

	"security-intel/internal/model"
	"security-intel/internal/store"
)

// Query selects one page of events. Empty Severity or EventType means no
// filter on that field.
type Query struct {
	Page      int
	PageSize  int
	Severity  model.Severity
	EventType string
}

// Browser pages through a store snapshot with an index seek plus a bounded
// scan.
type Browser struct {
	minPageSize int
	maxPageSize int
}

func New(minPageSize, maxPageSize int) *Browser {
	return &Browser{minPageSize: minPageSize, maxPageSize: maxPageSize}
}

// Validate checks q against the browser's bounds.
func (b *Browser) Validate(q Query) error {
	if q.Page < 1 {
		return model.InvalidQuery("page must be >= 1, got %d", q.Page)
	}
	if q.PageSize < b.minPageSize || q.PageSize > b.maxPageSize {
		return model.InvalidQuery("page_size must be between %d and %d, got %d", b.minPageSize, b.maxPageSize, q.PageSize)
	}
	if q.Severity != "" && !q.Severity.Valid() {
		return model.InvalidQuery("unknown severity %q", q.Severity)
	}
	return nil
}

// RecentEvents returns page q.Page of the events matching q, ordered by
// timestamp descending. A page past the end is empty and still reports the
// total.
func (b *Browser) RecentEvents(ctx context.Context, snap *store.Snapshot, q Query) (model.EventPage, error) {
	if err := b.Validate(q); err != nil {
		return model.EventPage{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.EventPage{}, err
	}

	f := store.Filter{Severity: q.Severity, EventType: q.EventType}
	total := snap.Count(f)
	page := model.EventPage{
		Data: make([]*model.SecurityEvent, 0, min(q.PageSize, total)),
		Pagination: model.Pagination{
			Page:       q.Page,
			PageSize:   q.PageSize,
			Total:      total,
			TotalPages: (total + q.PageSize - 1) / q.PageSize,
		},
	}

	if q.Page > page.Pagination.TotalPages {
		return page, nil
	}
	offset := (q.Page - 1) * q.PageSize
	for ev := range snap.Scan(f, store.OrderTimeDesc, q.PageSize, offset) {
		page.Data = append(page.Data, ev)
	}
	return page, nil
}
