package model

import "time"

// -------------------- AGGREGATION ROWS --------------------

// SeverityTrendRow is one (hour bucket, severity) pair.
type SeverityTrendRow struct {
	HourBucket   time.Time `json:"hour_bucket"`
	Severity     Severity  `json:"severity"`
	EventCount   int64     `json:"event_count"`
	RunningTotal int64     `json:"running_total"` // cumulative per severity, inclusive
	MovingAvg7h  float64   `json:"moving_avg_7h"` // current + 6 preceding buckets of the same severity
}

// AttackerRow is one source address in the TopAttackers leaderboard.
type AttackerRow struct {
	SourceIP          string    `json:"source_ip"`
	TotalEvents       int64     `json:"total_events"`
	CriticalEvents    int64     `json:"critical_events"`
	HighEvents        int64     `json:"high_events"`
	UniqueAttackTypes int       `json:"unique_attack_types"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	ThreatCategories  []string  `json:"threat_categories"`
	AttackRank        int       `json:"attack_rank"`
	Percentile        float64   `json:"percentile"`
	PctOfTotal        float64   `json:"pct_of_total"`
}

// CategoryRow is one threat category.
type CategoryRow struct {
	ThreatCategory   string  `json:"threat_category"`
	EventCount       int64   `json:"event_count"`
	SevereCount      int64   `json:"severe_count"`
	AvgSeverityScore float64 `json:"avg_severity_score"`
	UniqueSources    int     `json:"unique_sources"`
	Percentage       float64 `json:"percentage"`
	CumulativePct    float64 `json:"cumulative_pct"`
	CategoryRank     int     `json:"category_rank"`
}

// EventTypeRow is one event type.
type EventTypeRow struct {
	EventType        string    `json:"event_type"`
	EventCount       int64     `json:"event_count"`
	AvgSeverityScore float64   `json:"avg_severity_score"`
	UniqueSources    int       `json:"unique_sources"`
	LastSeen         time.Time `json:"last_seen"`
	EventsLast24h    int64     `json:"events_last_24h"`
	Percentage       float64   `json:"percentage"`
	TypeRank         int       `json:"type_rank"`
}

// GeoRow is one country code.
type GeoRow struct {
	GeoCountry       string    `json:"geo_country"`
	EventCount       int64     `json:"event_count"`
	SevereCount      int64     `json:"severe_count"`
	AvgSeverityScore float64   `json:"avg_severity_score"`
	UniqueSources    int       `json:"unique_sources"`
	EventTypes       []string  `json:"event_types"`
	LastSeen         time.Time `json:"last_seen"`
	Percentage       float64   `json:"percentage"`
	GeoRank          int       `json:"geo_rank"`
}

// SeverityShare is one row of the overall severity distribution.
type SeverityShare struct {
	Severity   Severity `json:"severity"`
	Count      int64    `json:"count"`
	Percentage float64  `json:"percentage"`
}

// KPISummary is the single-row dashboard summary. Every field is present
// even when the store is empty.
type KPISummary struct {
	TotalEvents            int64     `json:"total_events"`
	CriticalEvents         int64     `json:"critical_events"`
	HighEvents             int64     `json:"high_events"`
	MediumEvents           int64     `json:"medium_events"`
	LowEvents              int64     `json:"low_events"`
	AvgSeverityScore       float64   `json:"avg_severity_score"`
	UniqueSourceIPs        int       `json:"unique_source_ips"`
	UniqueDestIPs          int       `json:"unique_dest_ips"`
	UniqueEventTypes       int       `json:"unique_event_types"`
	UniqueThreatCategories int       `json:"unique_threat_categories"`
	EventsLast24h          int64     `json:"events_last_24h"`
	SevereLast24h          int64     `json:"severe_last_24h"`
	AvgEventsPerHour       float64   `json:"avg_events_per_hour"`
	EvaluatedAt            time.Time `json:"evaluated_at"`
}

// -------------------- EVENT BROWSER --------------------

// Pagination describes one page of a filtered event listing.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// EventPage is the browser result.
type EventPage struct {
	Data       []*SecurityEvent `json:"data"`
	Pagination Pagination       `json:"pagination"`
}
