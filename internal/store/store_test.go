package store

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"security-intel/internal/model"
)

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestStore() *Store {
	return New(WithLogger(zap.NewNop()), WithClock(func() time.Time { return base }))
}

func event(offset time.Duration, sev model.Severity, typ string) *model.SecurityEvent {
	return &model.SecurityEvent{
		Timestamp:     base.Add(offset),
		SourceIP:      "10.0.0.1",
		DestinationIP: "10.0.0.2",
		EventType:     typ,
		Severity:      sev,
		SeverityScore: 5,
		Description:   "test event",
	}
}

func collect(seq func(func(*model.SecurityEvent) bool)) []int64 {
	var ids []int64
	for ev := range seq {
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestAppend_AssignsSequenceAndDefaults(t *testing.T) {
	s := newTestStore()

	rec, err := s.Append(event(time.Minute, model.SeverityHigh, "port_scan"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, model.DefaultProtocol, rec.Protocol)
	assert.Equal(t, model.DefaultAction, rec.ActionTaken)
	assert.NotEqual(t, [16]byte{}, [16]byte(rec.EventID))
	assert.Equal(t, base, rec.CreatedAt)

	rec, err = s.Append(event(0, model.SeverityLow, "login"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ID)
	assert.Equal(t, 2, s.Len())
}

func TestAppend_RejectsMalformedEvents(t *testing.T) {
	s := newTestStore()

	cases := map[string]func(*model.SecurityEvent){
		"unknown severity": func(e *model.SecurityEvent) { e.Severity = "urgent" },
		"score too low":    func(e *model.SecurityEvent) { e.SeverityScore = 0 },
		"score too high":   func(e *model.SecurityEvent) { e.SeverityScore = 11 },
		"no source":        func(e *model.SecurityEvent) { e.SourceIP = "" },
		"no event type":    func(e *model.SecurityEvent) { e.EventType = " " },
		"no timestamp":     func(e *model.SecurityEvent) { e.Timestamp = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ev := event(0, model.SeverityLow, "login")
			mutate(ev)
			_, err := s.Append(ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
			var verr *model.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestAppend_NormalizesSeverityCase(t *testing.T) {
	s := newTestStore()
	rec, err := s.Append(event(0, "  CRITICAL ", "malware"))
	require.NoError(t, err)
	assert.Equal(t, model.SeverityCritical, rec.Severity)
}

func TestAppend_DoesNotRetainCallerValue(t *testing.T) {
	s := newTestStore()
	ev := event(0, model.SeverityLow, "login")
	_, err := s.Append(ev)
	require.NoError(t, err)

	ev.EventType = "changed"
	snap, err := s.Snapshot()
	require.NoError(t, err)
	got, ok := snap.Get(1)
	require.True(t, ok)
	assert.Equal(t, "login", got.EventType)
}

func TestSnapshot_IsolatedFromLaterAppends(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 3; i++ {
		_, err := s.Append(event(time.Duration(i)*time.Minute, model.SeverityLow, "login"))
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	_, err = s.Append(event(time.Hour, model.SeverityLow, "login"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.Version())
	assert.Equal(t, 3, snap.Count(Filter{Severity: model.SeverityLow}))
	assert.Len(t, collect(snap.Scan(Filter{}, OrderTimeDesc, 0, 0)), 3)

	again, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(4), again.Version())

	cached, err := s.Snapshot()
	require.NoError(t, err)
	assert.Same(t, again, cached)
}

func TestScan_OrdersAndFilters(t *testing.T) {
	s := newTestStore()
	inputs := []struct {
		offset time.Duration
		sev    model.Severity
		typ    string
	}{
		{2 * time.Minute, model.SeverityHigh, "port_scan"},  // 1
		{1 * time.Minute, model.SeverityLow, "login"},       // 2
		{3 * time.Minute, model.SeverityHigh, "login"},      // 3
		{3 * time.Minute, model.SeverityHigh, "port_scan"},  // 4
		{0, model.SeverityCritical, "malware"},              // 5
	}
	for _, in := range inputs {
		_, err := s.Append(event(in.offset, in.sev, in.typ))
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 3, 1, 2, 5}, collect(snap.Scan(Filter{}, OrderTimeDesc, 0, 0)))
	assert.Equal(t, []int64{5, 2, 1, 3, 4}, collect(snap.Scan(Filter{}, OrderTimeAsc, 0, 0)))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, collect(snap.Scan(Filter{}, OrderSeq, 0, 0)))

	high := Filter{Severity: model.SeverityHigh}
	assert.Equal(t, []int64{4, 3, 1}, collect(snap.Scan(high, OrderTimeDesc, 0, 0)))
	assert.Equal(t, 3, snap.Count(high))

	both := Filter{Severity: model.SeverityHigh, EventType: "port_scan"}
	assert.Equal(t, []int64{4, 1}, collect(snap.Scan(both, OrderTimeDesc, 0, 0)))
	assert.Equal(t, []int64{1, 4}, collect(snap.Scan(both, OrderSeq, 0, 0)))
	assert.Equal(t, 2, snap.Count(both))

	assert.Equal(t, []int64{3, 1}, collect(snap.Scan(Filter{}, OrderTimeDesc, 2, 1)))
	assert.Empty(t, collect(snap.Scan(Filter{}, OrderTimeDesc, 10, 5)))
	assert.Equal(t, 0, snap.Count(Filter{EventType: "unknown"}))
}

func TestScan_IsSingleUse(t *testing.T) {
	s := newTestStore()
	_, err := s.Append(event(0, model.SeverityLow, "login"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	seq := snap.Scan(Filter{}, OrderTimeDesc, 0, 0)
	assert.Len(t, collect(seq), 1)
	assert.Empty(t, collect(seq))
}

func TestTimeRangeAndLookup(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 6; i++ {
		ev := event(time.Duration(i)*time.Hour, model.SeverityMedium, "login")
		ev.SourceIP = fmt.Sprintf("10.0.0.%d", i%2)
		_, err := s.Append(ev)
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3, 4}, collect(snap.TimeRange(base.Add(time.Hour), base.Add(4*time.Hour), OrderTimeAsc)))
	assert.Equal(t, []int64{4, 3, 2}, collect(snap.TimeRange(base.Add(time.Hour), base.Add(4*time.Hour), OrderTimeDesc)))
	assert.Empty(t, collect(snap.TimeRange(base.Add(time.Hour), base.Add(time.Hour), OrderTimeAsc)))

	assert.Equal(t, []int64{2, 4, 6}, collect(snap.Lookup(ColSourceIP, "10.0.0.1", OrderTimeAsc)))
	assert.Equal(t, []int64{5, 3, 1}, collect(snap.Lookup(ColSourceIP, "10.0.0.0", OrderTimeDesc)))
	assert.Equal(t, []int64{1, 3, 5, 2, 4, 6}, collect(snap.KeyRange(ColSourceIP, "10.0.0.0", "10.0.0.2", OrderTimeAsc)))
	assert.Equal(t, 2, snap.Distinct(ColSourceIP))
	assert.Equal(t, []string{"10.0.0.0", "10.0.0.1"}, snap.Keys(ColSourceIP))
	assert.Equal(t, 6, snap.DistinctBuckets(time.Hour))
	assert.Equal(t, 1, snap.DistinctBuckets(24*time.Hour))
}

func TestTimestampsOutsideNanosecondRange(t *testing.T) {
	s := newTestStore()
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1500, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range dates {
		ev := event(0, model.SeverityHigh, "port_scan")
		ev.Timestamp = ts
		_, err := s.Append(ev)
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, []int64{3, 1, 2}, collect(snap.Scan(Filter{}, OrderTimeDesc, 0, 0)))
	assert.Equal(t, []int64{2, 1, 3}, collect(snap.Scan(Filter{}, OrderTimeAsc, 0, 0)))
	assert.Equal(t, []int64{3, 1, 2}, collect(snap.Lookup(ColSeverity, string(model.SeverityHigh), OrderTimeDesc)))
	assert.Equal(t, []int64{2, 1, 3}, collect(snap.Lookup(ColEventType, "port_scan", OrderTimeAsc)))

	year := 365 * 24 * time.Hour
	assert.Equal(t, []int64{2}, collect(snap.TimeRange(dates[1].Add(-time.Hour), dates[1].Add(time.Hour), OrderTimeAsc)))
	assert.Equal(t, []int64{3}, collect(snap.TimeRange(dates[2], dates[2].Add(year), OrderTimeAsc)))
	assert.Empty(t, collect(snap.TimeRange(dates[1].Add(time.Second), dates[0], OrderTimeAsc)))
	assert.Equal(t, 3, snap.DistinctBuckets(time.Hour))
}

func TestDistinctBuckets_SubSecondTimestamps(t *testing.T) {
	s := newTestStore()
	for _, off := range []time.Duration{time.Nanosecond, 999 * time.Millisecond, time.Second + time.Microsecond} {
		_, err := s.Append(event(off, model.SeverityLow, "login"))
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, 2, snap.DistinctBuckets(time.Second))
	assert.Equal(t, 1, snap.DistinctBuckets(time.Minute))
	assert.Equal(t, 0, snap.DistinctBuckets(time.Millisecond))
	assert.Equal(t, []int64{2}, collect(snap.TimeRange(base.Add(time.Millisecond), base.Add(time.Second), OrderTimeAsc)))
}

func TestSnapshot_KeyCountsIsolatedFromLaterAppends(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 4; i++ {
		ev := event(time.Duration(i)*time.Minute, model.SeverityLow, "login")
		ev.SourceIP = fmt.Sprintf("10.0.1.%d", i%2)
		_, err := s.Append(ev)
		require.NoError(t, err)
	}
	snap, err := s.Snapshot()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ev := event(time.Hour, model.SeverityLow, "login")
		ev.SourceIP = fmt.Sprintf("10.0.2.%d", i)
		_, err := s.Append(ev)
		require.NoError(t, err)
	}
	ev := event(time.Hour, model.SeverityLow, "login")
	ev.SourceIP = "10.0.1.0"
	_, err = s.Append(ev)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Distinct(ColSourceIP))
	assert.Equal(t, 2, snap.KeyCount(ColSourceIP, "10.0.1.0"))
	assert.Equal(t, 0, snap.KeyCount(ColSourceIP, "10.0.2.0"))
	assert.Equal(t, []string{"10.0.1.0", "10.0.1.1"}, snap.Keys(ColSourceIP))

	latest, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Distinct(ColSourceIP))
	assert.Equal(t, 3, latest.KeyCount(ColSourceIP, "10.0.1.0"))
	assert.Equal(t, 8, latest.Count(Filter{Severity: model.SeverityLow}))
}

// snapshotBytes returns the bytes allocated by one Snapshot call taken right
// after an append.
func snapshotBytes(t *testing.T, s *Store) uint64 {
	t.Helper()
	_, err := s.Append(event(0, model.SeverityLow, "login"))
	require.NoError(t, err)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err = s.Snapshot()
	runtime.ReadMemStats(&after)
	require.NoError(t, err)
	return after.TotalAlloc - before.TotalAlloc
}

func TestSnapshot_CostIndependentOfDistinctKeys(t *testing.T) {
	small := newTestStore()
	large := newTestStore()
	for i := 0; i < 20000; i++ {
		ev := event(time.Duration(i)*time.Second, model.SeverityLow, "login")
		ev.SourceIP = fmt.Sprintf("10.%d.%d.%d", i>>16, (i>>8)&0xff, i&0xff)
		ev.DestinationIP = ev.SourceIP
		_, err := large.Append(ev)
		require.NoError(t, err)
		if i < 10 {
			_, err = small.Append(ev)
			require.NoError(t, err)
		}
	}

	smallBytes := snapshotBytes(t, small)
	largeBytes := snapshotBytes(t, large)
	assert.Less(t, largeBytes, uint64(64<<10))
	assert.InDelta(t, float64(smallBytes), float64(largeBytes), float64(16<<10))
}

func TestNullableColumnsNotIndexed(t *testing.T) {
	s := newTestStore()
	ev := event(0, model.SeverityLow, "login")
	_, err := s.Append(ev)
	require.NoError(t, err)
	ev = event(0, model.SeverityLow, "login")
	ev.ThreatCategory = "recon"
	ev.GeoCountry = "de"
	_, err = s.Append(ev)
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Distinct(ColThreatCategory))
	assert.Equal(t, []string{"DE"}, snap.Keys(ColCountry))
}

func TestRestore_KeepsMonotonicCreatedAt(t *testing.T) {
	s := newTestStore()
	first := event(0, model.SeverityLow, "login")
	first.CreatedAt = base.Add(time.Hour)
	rec, err := s.Restore(first)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), rec.CreatedAt)

	older := event(0, model.SeverityLow, "login")
	older.CreatedAt = base
	rec, err = s.Restore(older)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), rec.CreatedAt)
}

func TestClose_MakesStoreUnavailable(t *testing.T) {
	s := newTestStore()
	_, err := s.Append(event(0, model.SeverityLow, "login"))
	require.NoError(t, err)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	s.Close()
	_, err = s.Append(event(0, model.SeverityLow, "login"))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	_, err = s.Snapshot()
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.ErrorIs(t, s.HealthCheck(), model.ErrStoreUnavailable)
	assert.Equal(t, 1, snap.Len())
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := newTestStore()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				_, err := s.Append(event(time.Duration(i)*time.Second, model.SeverityMedium, "login"))
				assert.NoError(t, err)
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				snap, err := s.Snapshot()
				if !assert.NoError(t, err) {
					return
				}
				n := 0
				for range snap.Scan(Filter{Severity: model.SeverityMedium}, OrderTimeDesc, 0, 0) {
					n++
				}
				assert.Equal(t, snap.Len(), n)
			}
		}()
	}
	wg.Wait()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1000, snap.Len())
	for i, ev := range snap.Events() {
		assert.Equal(t, int64(i+1), ev.ID)
	}
}
