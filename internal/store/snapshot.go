package store

import (
	"iter"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"security-intel/internal/model"
)

// Order selects the iteration order of a scan.
type Order int

const (
	OrderTimeDesc Order = iota // most recent first, newest insertion first on equal timestamps
	OrderTimeAsc
	OrderSeq // insertion order
)

// Filter holds the equality predicates supported by Scan. Empty fields do
// not constrain; set fields are combined with AND.
type Filter struct {
	Severity  model.Severity
	EventType string
}

// Snapshot is an immutable view of the store as of one sequence id. It is
// safe for concurrent use by any number of readers.
type Snapshot struct {
	version int64
	events  []*model.SecurityEvent
	indexes map[Column]*btree.BTreeG[entry]
	counts  map[Column]*btree.BTreeG[keyCount]
}

// Version is the highest sequence id visible in the snapshot.
func (s *Snapshot) Version() int64 { return s.version }

// Len is the number of visible records.
func (s *Snapshot) Len() int { return len(s.events) }

// Events exposes the arena prefix in insertion order. Callers must treat
// the slice and the records as read-only.
func (s *Snapshot) Events() []*model.SecurityEvent { return s.events }

// Get returns the record with sequence id seq.
func (s *Snapshot) Get(seq int64) (*model.SecurityEvent, bool) {
	if seq < 1 || seq > s.version {
		return nil, false
	}
	return s.events[seq-1], true
}

// Distinct returns the number of distinct non-null keys in col.
func (s *Snapshot) Distinct(col Column) int {
	c := s.counts[col]
	if c == nil {
		return 0
	}
	return c.Len()
}

// KeyCount returns the number of records whose col value equals key.
func (s *Snapshot) KeyCount(col Column, key string) int {
	c := s.counts[col]
	if c == nil {
		return 0
	}
	kc, _ := c.Get(keyCount{key: key})
	return kc.n
}

// Keys returns the distinct non-null keys of col in ascending order.
func (s *Snapshot) Keys(col Column) []string {
	c := s.counts[col]
	if c == nil {
		return nil
	}
	keys := make([]string, 0, c.Len())
	c.Ascend(func(kc keyCount) bool {
		keys = append(keys, kc.key)
		return true
	})
	return keys
}

// Lookup yields every record whose col value equals key.
func (s *Snapshot) Lookup(col Column, key string, order Order) iter.Seq[*model.SecurityEvent] {
	idx := s.indexes[col]
	if idx == nil {
		return empty
	}
	return s.rangeSeq(idx, lowest(key), highest(key), order)
}

// KeyRange yields records whose col value lies in [from, to).
func (s *Snapshot) KeyRange(col Column, from, to string, order Order) iter.Seq[*model.SecurityEvent] {
	idx := s.indexes[col]
	if idx == nil || from >= to {
		return empty
	}
	return s.rangeSeq(idx, lowest(from), lowest(to), order)
}

// TimeRange yields records with start <= timestamp < end.
func (s *Snapshot) TimeRange(start, end time.Time, order Order) iter.Seq[*model.SecurityEvent] {
	if !start.Before(end) {
		return empty
	}
	return s.rangeSeq(s.indexes[ColTime], at(start), at(end), order)
}

// DistinctBuckets returns the number of width-aligned time buckets holding
// at least one record. It seeks the time index once per populated bucket.
// Widths are whole seconds; anything shorter than a second counts nothing.
func (s *Snapshot) DistinctBuckets(width time.Duration) int {
	idx := s.indexes[ColTime]
	w := int64(width / time.Second)
	if idx == nil || w <= 0 {
		return 0
	}
	n := 0
	pivot := lowest("")
	for {
		var next entry
		found := false
		idx.AscendGreaterOrEqual(pivot, func(e entry) bool {
			next, found = e, true
			return false
		})
		if !found {
			return n
		}
		n++
		start := next.sec - floorMod(next.sec, w)
		if start > math.MaxInt64-w {
			return n
		}
		pivot = entry{sec: start + w, nsec: math.MinInt32, seq: math.MinInt64}
	}
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Count returns the number of records matching f.
func (s *Snapshot) Count(f Filter) int {
	col, key := s.plan(f)
	if col == ColTime {
		return len(s.events)
	}
	return s.KeyCount(col, key)
}

// Scan yields the records matching f in the requested order, skipping the
// first offset matches and stopping after limit (limit <= 0 means no
// limit). The returned sequence is single-use: iterating it a second time
// yields nothing.
func (s *Snapshot) Scan(f Filter, order Order, limit, offset int) iter.Seq[*model.SecurityEvent] {
	col, key := s.plan(f)
	var base iter.Seq[*model.SecurityEvent]
	switch {
	case order == OrderSeq && col == ColTime:
		base = s.seqOrder
	case order == OrderSeq:
		base = s.seqOrderFiltered(col, key)
	case col == ColTime:
		base = s.rangeSeq(s.indexes[ColTime], lowest(""), highest(""), order)
	default:
		base = s.Lookup(col, key, order)
	}

	var used atomic.Bool
	return func(yield func(*model.SecurityEvent) bool) {
		if used.Swap(true) {
			return
		}
		skipped, emitted := 0, 0
		for ev := range base {
			if skipped < offset {
				skipped++
				continue
			}
			if !yield(ev) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}
		}
	}
}

// plan picks the narrowest index that answers f exactly.
func (s *Snapshot) plan(f Filter) (Column, string) {
	switch {
	case f.Severity != "" && f.EventType != "":
		return ColSeverityType, CompositeKey(f.Severity, f.EventType)
	case f.Severity != "":
		return ColSeverity, string(f.Severity)
	case f.EventType != "":
		return ColEventType, f.EventType
	}
	return ColTime, ""
}

func (s *Snapshot) rangeSeq(idx *btree.BTreeG[entry], lo, hi entry, order Order) iter.Seq[*model.SecurityEvent] {
	return func(yield func(*model.SecurityEvent) bool) {
		visit := func(e entry) bool {
			return yield(s.events[e.seq-1])
		}
		switch order {
		case OrderTimeDesc:
			// [lo, hi) walked from the top: hi is exclusive, lo inclusive.
			idx.DescendLessOrEqual(hi, func(e entry) bool {
				if !lessEntry(e, hi) {
					return true
				}
				if lessEntry(e, lo) {
					return false
				}
				return visit(e)
			})
		default:
			idx.AscendRange(lo, hi, visit)
		}
	}
}

func (s *Snapshot) seqOrder(yield func(*model.SecurityEvent) bool) {
	for _, ev := range s.events {
		if !yield(ev) {
			return
		}
	}
}

func (s *Snapshot) seqOrderFiltered(col Column, key string) iter.Seq[*model.SecurityEvent] {
	return func(yield func(*model.SecurityEvent) bool) {
		for _, ev := range s.events {
			if k, ok := keyOf(col, ev); !ok || k != key {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func empty(func(*model.SecurityEvent) bool) {}
