package analytics

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"security-intel/internal/model"
	"security-intel/internal/store"
)

// KPISummary computes the dashboard summary from one snapshot. Totals and
// distinct counts come from the index key counts; the trailing window is an
// index seek over [now-24h, now].
func (e *Engine) KPISummary(ctx context.Context, snap *store.Snapshot) (model.KPISummary, error) {
	now := e.Now()
	k := model.KPISummary{
		TotalEvents:            int64(snap.Len()),
		CriticalEvents:         int64(snap.KeyCount(store.ColSeverity, string(model.SeverityCritical))),
		HighEvents:             int64(snap.KeyCount(store.ColSeverity, string(model.SeverityHigh))),
		MediumEvents:           int64(snap.KeyCount(store.ColSeverity, string(model.SeverityMedium))),
		LowEvents:              int64(snap.KeyCount(store.ColSeverity, string(model.SeverityLow))),
		UniqueSourceIPs:        snap.Distinct(store.ColSourceIP),
		UniqueDestIPs:          snap.Distinct(store.ColDestinationIP),
		UniqueEventTypes:       snap.Distinct(store.ColEventType),
		UniqueThreatCategories: snap.Distinct(store.ColThreatCategory),
		EvaluatedAt:            now,
	}

	var scoreSum int64
	for _, key := range snap.Keys(store.ColSeverityScore) {
		score, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		scoreSum += int64(score) * int64(snap.KeyCount(store.ColSeverityScore, key))
	}
	k.AvgSeverityScore = mean(scoreSum, k.TotalEvents)

	visited := 0
	for ev := range snap.TimeRange(now.Add(-RecentWindow), now.Add(time.Nanosecond), store.OrderTimeAsc) {
		if visited%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return model.KPISummary{}, err
			}
		}
		visited++
		k.EventsLast24h++
		if ev.Severity.Severe() {
			k.SevereLast24h++
		}
	}

	if hours := snap.DistinctBuckets(time.Hour); hours > 0 {
		k.AvgEventsPerHour = round(float64(k.TotalEvents)/float64(hours), 2)
	}
	if err := ctx.Err(); err != nil {
		return model.KPISummary{}, err
	}

	e.logger.Debug("kpi summary computed",
		zap.Int64("version", snap.Version()),
		zap.Int64("events_last_24h", k.EventsLast24h))
	return k, nil
}

// SeverityDistribution reports each present severity's count and share of
// all events, most severe first.
func (e *Engine) SeverityDistribution(ctx context.Context, snap *store.Snapshot) ([]model.SeverityShare, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total := snap.Len()
	out := make([]model.SeverityShare, 0, len(model.Severities))
	for i := len(model.Severities) - 1; i >= 0; i-- {
		sev := model.Severities[i]
		n := snap.KeyCount(store.ColSeverity, string(sev))
		if n == 0 {
			continue
		}
		out = append(out, model.SeverityShare{
			Severity:   sev,
			Count:      int64(n),
			Percentage: round(float64(n)*100/float64(total), 2),
		})
	}
	return out, nil
}
