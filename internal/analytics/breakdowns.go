package analytics

import (
	"context"
	"time"

	"go.uber.org/zap"

	"security-intel/internal/model"
	"security-intel/internal/store"
)

// breakdownAcc is the per-group accumulator shared by the category, event
// type and country breakdowns.
type breakdownAcc struct {
	count, severe, scoreSum, recent int64
	sources                         stringSet
	types                           stringSet
	last                            time.Time
}

func newBreakdownAcc() *breakdownAcc {
	return &breakdownAcc{sources: stringSet{}, types: stringSet{}}
}

func (a *breakdownAcc) merge(o *breakdownAcc) {
	a.count += o.count
	a.severe += o.severe
	a.scoreSum += o.scoreSum
	a.recent += o.recent
	a.sources.union(o.sources)
	a.types.union(o.types)
	if o.last.After(a.last) {
		a.last = o.last
	}
}

// breakdown groups the snapshot by key. Events at or after since add to the
// recent counter; a zero since disables it.
func (e *Engine) breakdown(ctx context.Context, snap *store.Snapshot,
	key func(*model.SecurityEvent) (string, bool), since, until time.Time, withTypes bool) (map[string]*breakdownAcc, error) {

	return groupEvents(ctx, e, snap.Events(), grouping[*breakdownAcc]{
		key:  key,
		init: newBreakdownAcc,
		add: func(a *breakdownAcc, ev *model.SecurityEvent) {
			a.count++
			if ev.Severity.Severe() {
				a.severe++
			}
			a.scoreSum += int64(ev.SeverityScore)
			a.sources.add(ev.SourceIP)
			if withTypes {
				a.types.add(ev.EventType)
			}
			if ev.Timestamp.After(a.last) {
				a.last = ev.Timestamp
			}
			if !since.IsZero() && !ev.Timestamp.Before(since) && !ev.Timestamp.After(until) {
				a.recent++
			}
		},
		merge: (*breakdownAcc).merge,
	})
}

// ThreatCategoryStats ranks threat categories by event count. Events with
// no category are excluded, including from the percentage denominator.
// Cumulative percentages accumulate in rank order, ties by category name.
func (e *Engine) ThreatCategoryStats(ctx context.Context, snap *store.Snapshot) ([]model.CategoryRow, error) {
	groups, err := e.breakdown(ctx, snap, func(ev *model.SecurityEvent) (string, bool) {
		return ev.ThreatCategory, ev.HasThreatCategory()
	}, time.Time{}, time.Time{}, false)
	if err != nil {
		return nil, err
	}

	rows := make([]model.CategoryRow, 0, len(groups))
	for cat, a := range groups {
		rows = append(rows, model.CategoryRow{
			ThreatCategory:   cat,
			EventCount:       a.count,
			SevereCount:      a.severe,
			AvgSeverityScore: mean(a.scoreSum, a.count),
			UniqueSources:    len(a.sources),
		})
	}
	rankGroups(rows,
		func(r *model.CategoryRow) int64 { return r.EventCount },
		func(r *model.CategoryRow) string { return r.ThreatCategory },
		func(r *model.CategoryRow, st standing) {
			r.CategoryRank = st.Rank
			r.Percentage = round(st.Share, 2)
			r.CumulativePct = round(st.Cumulative, 2)
		})

	e.logger.Debug("threat category stats computed",
		zap.Int64("version", snap.Version()),
		zap.Int("categories", len(rows)))
	return rows, nil
}

// EventTypeAnalysis ranks event types by event count and reports, per type,
// how many events fall inside the trailing 24h window ending now.
func (e *Engine) EventTypeAnalysis(ctx context.Context, snap *store.Snapshot) ([]model.EventTypeRow, error) {
	now := e.Now()
	groups, err := e.breakdown(ctx, snap, func(ev *model.SecurityEvent) (string, bool) {
		return ev.EventType, true
	}, now.Add(-RecentWindow), now, false)
	if err != nil {
		return nil, err
	}

	rows := make([]model.EventTypeRow, 0, len(groups))
	for typ, a := range groups {
		rows = append(rows, model.EventTypeRow{
			EventType:        typ,
			EventCount:       a.count,
			AvgSeverityScore: mean(a.scoreSum, a.count),
			UniqueSources:    len(a.sources),
			LastSeen:         a.last,
			EventsLast24h:    a.recent,
		})
	}
	rankGroups(rows,
		func(r *model.EventTypeRow) int64 { return r.EventCount },
		func(r *model.EventTypeRow) string { return r.EventType },
		func(r *model.EventTypeRow, st standing) {
			r.TypeRank = st.Rank
			r.Percentage = round(st.Share, 2)
		})

	e.logger.Debug("event type analysis computed",
		zap.Int64("version", snap.Version()),
		zap.Int("types", len(rows)))
	return rows, nil
}

// GeoDistribution ranks country codes by event count. Events without a
// country are excluded, including from the percentage denominator.
func (e *Engine) GeoDistribution(ctx context.Context, snap *store.Snapshot) ([]model.GeoRow, error) {
	groups, err := e.breakdown(ctx, snap, func(ev *model.SecurityEvent) (string, bool) {
		return ev.GeoCountry, ev.HasCountry()
	}, time.Time{}, time.Time{}, true)
	if err != nil {
		return nil, err
	}

	rows := make([]model.GeoRow, 0, len(groups))
	for country, a := range groups {
		rows = append(rows, model.GeoRow{
			GeoCountry:       country,
			EventCount:       a.count,
			SevereCount:      a.severe,
			AvgSeverityScore: mean(a.scoreSum, a.count),
			UniqueSources:    len(a.sources),
			EventTypes:       sortedKeys(a.types),
			LastSeen:         a.last,
		})
	}
	rankGroups(rows,
		func(r *model.GeoRow) int64 { return r.EventCount },
		func(r *model.GeoRow) string { return r.GeoCountry },
		func(r *model.GeoRow, st standing) {
			r.GeoRank = st.Rank
			r.Percentage = round(st.Share, 2)
		})

	e.logger.Debug("geo distribution computed",
		zap.Int64("version", snap.Version()),
		zap.Int("countries", len(rows)))
	return rows, nil
}
