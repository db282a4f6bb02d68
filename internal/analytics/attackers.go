package analytics

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"security-intel/internal/model"
	"security-intel/internal/store"
)

type attackerAcc struct {
	total, critical, high int64
	types                 stringSet
	categories            stringSet
	first, last           time.Time
}

func (a *attackerAcc) add(ev *model.SecurityEvent) {
	a.total++
	switch ev.Severity {
	case model.SeverityCritical:
		a.critical++
	case model.SeverityHigh:
		a.high++
	}
	a.types.add(ev.EventType)
	if ev.HasThreatCategory() {
		a.categories.add(ev.ThreatCategory)
	}
	if a.first.IsZero() || ev.Timestamp.Before(a.first) {
		a.first = ev.Timestamp
	}
	if ev.Timestamp.After(a.last) {
		a.last = ev.Timestamp
	}
}

func (a *attackerAcc) merge(o *attackerAcc) {
	a.total += o.total
	a.critical += o.critical
	a.high += o.high
	a.types.union(o.types)
	a.categories.union(o.categories)
	if o.first.Before(a.first) {
		a.first = o.first
	}
	if o.last.After(a.last) {
		a.last = o.last
	}
}

// TopAttackers groups events by source address and ranks the groups by
// total event count. Only groups with rank <= limit are returned, so a tie
// straddling the limit is kept whole. limit is clamped to 1..MaxAttackers.
// Tied groups are ordered by source address.
func (e *Engine) TopAttackers(ctx context.Context, snap *store.Snapshot, limit int) ([]model.AttackerRow, error) {
	if limit <= 0 || limit > MaxAttackers {
		limit = MaxAttackers
	}

	groups, err := groupEvents(ctx, e, snap.Events(), grouping[*attackerAcc]{
		key: func(ev *model.SecurityEvent) (string, bool) { return ev.SourceIP, true },
		init: func() *attackerAcc {
			return &attackerAcc{types: stringSet{}, categories: stringSet{}}
		},
		add:   (*attackerAcc).add,
		merge: (*attackerAcc).merge,
	})
	if err != nil {
		return nil, err
	}

	rows := make([]model.AttackerRow, 0, len(groups))
	for ip, a := range groups {
		rows = append(rows, model.AttackerRow{
			SourceIP:          ip,
			TotalEvents:       a.total,
			CriticalEvents:    a.critical,
			HighEvents:        a.high,
			UniqueAttackTypes: len(a.types),
			FirstSeen:         a.first,
			LastSeen:          a.last,
			ThreatCategories:  sortedKeys(a.categories),
		})
	}

	rankGroups(rows,
		func(r *model.AttackerRow) int64 { return r.TotalEvents },
		func(r *model.AttackerRow) string { return r.SourceIP },
		func(r *model.AttackerRow, st standing) {
			r.AttackRank = st.Rank
			r.Percentile = round(st.Percentile, 4)
			r.PctOfTotal = round(st.Share, 4)
		})

	cut := len(rows)
	for i := range rows {
		if rows[i].AttackRank > limit {
			cut = i
			break
		}
	}
	e.logger.Debug("top attackers computed",
		zap.Int64("version", snap.Version()),
		zap.Int("groups", len(rows)),
		zap.Int("returned", cut))
	return rows[:cut], nil
}

func sortedKeys(s stringSet) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
