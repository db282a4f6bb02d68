package analytics

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-intel/internal/bucketing"
	"security-intel/internal/model"
	"security-intel/internal/store"
)

// SeverityTrend counts events per (hour bucket, severity) and adds, per
// severity, a running total and a trailing moving average over the current
// bucket and up to six preceding buckets of that severity. Combinations with
// no events produce no row.
//
// Rows are ordered by bucket descending, then by severity rank ascending
// (low, medium, high, critical). Rank order is not alphabetical order. When
// limit > 0 only the limit most recent buckets are returned; running totals
// still cover the full history.
func (e *Engine) SeverityTrend(ctx context.Context, snap *store.Snapshot, limit int) ([]model.SeverityTrendRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	perSeverity := make([][]model.SeverityTrendRow, len(model.Severities))

	g, gctx := errgroup.WithContext(ctx)
	for i, sev := range model.Severities {
		g.Go(func() error {
			rows, err := severitySeries(gctx, snap, sev)
			perSeverity[i] = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []model.SeverityTrendRow
	for _, series := range perSeverity {
		rows = append(rows, series...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].HourBucket.Equal(rows[j].HourBucket) {
			return rows[i].HourBucket.After(rows[j].HourBucket)
		}
		return rows[i].Severity.Ordinal() < rows[j].Severity.Ordinal()
	})

	if limit > 0 {
		rows = recentBuckets(rows, limit)
	}
	e.logger.Debug("severity trend computed",
		zap.Int64("version", snap.Version()),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// severitySeries walks the severity index in time order, so buckets arrive
// already sorted and both window statistics are computed in one pass.
func severitySeries(ctx context.Context, snap *store.Snapshot, sev model.Severity) ([]model.SeverityTrendRow, error) {
	var (
		rows    []model.SeverityTrendRow
		window  [MovingAvgWindow]int64
		running int64
		visited int
		err     error
	)
	flush := func(row *model.SeverityTrendRow) {
		n := len(rows) // buckets already emitted for this severity
		window[n%MovingAvgWindow] = row.EventCount
		width := min(n+1, MovingAvgWindow)
		var sum int64
		for k := 0; k < width; k++ {
			sum += window[k]
		}
		running += row.EventCount
		row.RunningTotal = running
		row.MovingAvg7h = round(float64(sum)/float64(width), 2)
		rows = append(rows, *row)
	}

	var cur *model.SeverityTrendRow
	for ev := range snap.Lookup(store.ColSeverity, string(sev), store.OrderTimeAsc) {
		if visited%checkInterval == 0 {
			if err = ctx.Err(); err != nil {
				return nil, err
			}
		}
		visited++

		bucket := bucketing.HourBucket(ev.Timestamp)
		if cur != nil && cur.HourBucket.Equal(bucket) {
			cur.EventCount++
			continue
		}
		if cur != nil {
			flush(cur)
		}
		cur = &model.SeverityTrendRow{HourBucket: bucket, Severity: sev, EventCount: 1}
	}
	if cur != nil {
		flush(cur)
	}
	return rows, nil
}

// recentBuckets keeps the rows of the limit most recent distinct buckets.
// rows must be ordered by bucket descending.
func recentBuckets(rows []model.SeverityTrendRow, limit int) []model.SeverityTrendRow {
	seen := 0
	for i := range rows {
		if i == 0 || !rows[i].HourBucket.Equal(rows[i-1].HourBucket) {
			seen++
			if seen > limit {
				return rows[:i]
			}
		}
	}
	return rows
}
