package store

import (
	"fmt"
	"math"
	"time"

	"github.com/google/btree"

	"security-intel/internal/model"
)

// Column names an indexed field of SecurityEvent.
type Column string

const (
	ColTime           Column = "timestamp"
	ColSeverity       Column = "severity"        // composite (severity, timestamp)
	ColSeverityType   Column = "severity_type"   // composite (severity, event_type, timestamp)
	ColEventType      Column = "event_type"      // composite (event_type, timestamp)
	ColSourceIP       Column = "source_ip"
	ColDestinationIP  Column = "destination_ip"
	ColThreatCategory Column = "threat_category" // null categories are not indexed
	ColCountry        Column = "geo_country"     // null countries are not indexed
	ColSeverityScore  Column = "severity_score"
	ColAction         Column = "action_taken"
)

// Columns lists every maintained index.
var Columns = []Column{
	ColTime, ColSeverity, ColSeverityType, ColEventType, ColSourceIP, ColDestinationIP,
	ColThreatCategory, ColCountry, ColSeverityScore, ColAction,
}

const btreeDegree = 32

// entry orders events inside one index by (key, timestamp, seq). The
// timestamp is kept as unix seconds plus nanoseconds so that every
// representable time sorts correctly, not only 1678 through 2262.
type entry struct {
	key  string
	sec  int64
	nsec int32
	seq  int64
}

func lessEntry(a, b entry) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	if a.sec != b.sec {
		return a.sec < b.sec
	}
	if a.nsec != b.nsec {
		return a.nsec < b.nsec
	}
	return a.seq < b.seq
}

func newIndex() *btree.BTreeG[entry] {
	return btree.NewG[entry](btreeDegree, lessEntry)
}

func lowest(key string) entry {
	return entry{key: key, sec: math.MinInt64, nsec: math.MinInt32, seq: math.MinInt64}
}

func highest(key string) entry {
	return entry{key: key, sec: math.MaxInt64, nsec: math.MaxInt32, seq: math.MaxInt64}
}

// at is the first possible entry at time t.
func at(t time.Time) entry {
	return entry{sec: t.Unix(), nsec: int32(t.Nanosecond()), seq: math.MinInt64}
}

// keyCount is the number of records holding one key of a column.
type keyCount struct {
	key string
	n   int
}

func newCounts() *btree.BTreeG[keyCount] {
	return btree.NewG[keyCount](btreeDegree, func(a, b keyCount) bool { return a.key < b.key })
}

// CompositeKey builds the ColSeverityType key.
func CompositeKey(sev model.Severity, eventType string) string {
	return string(sev) + "\x00" + eventType
}

// ScoreKey builds the ColSeverityScore key; zero padding keeps numeric order.
func ScoreKey(score int) string {
	return fmt.Sprintf("%02d", score)
}

// keyOf extracts the index key of ev for col. ok is false for null values.
func keyOf(col Column, ev *model.SecurityEvent) (key string, ok bool) {
	switch col {
	case ColTime:
		return "", true
	case ColSeverity:
		return string(ev.Severity), true
	case ColSeverityType:
		return CompositeKey(ev.Severity, ev.EventType), true
	case ColEventType:
		return ev.EventType, true
	case ColSourceIP:
		return ev.SourceIP, true
	case ColDestinationIP:
		return ev.DestinationIP, true
	case ColThreatCategory:
		return ev.ThreatCategory, ev.HasThreatCategory()
	case ColCountry:
		return ev.GeoCountry, ev.HasCountry()
	case ColSeverityScore:
		return ScoreKey(ev.SeverityScore), true
	case ColAction:
		return ev.ActionTaken, true
	}
	return "", false
}
